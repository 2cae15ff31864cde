package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/utils"
)

var (
	connections   int
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	throttle      time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	debug         bool
)

var globalHTTPConfig utils.HTTPClientConfig

var SudVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "sud",
	Short:   "sud is a resumable multi-connection download manager",
	Version: SudVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		globalHTTPConfig = buildHTTPConfig()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildHTTPConfig() utils.HTTPClientConfig {
	agent := userAgent
	if agent == "randomize" {
		agent = utils.GetRandomUserAgent()
	}
	proxy, username, password := proxyURL, proxyUsername, proxyPassword
	// credentials embedded in the proxy URL win only when none were given
	parsedProxy, err := u.Parse(proxy)
	if err == nil && parsedProxy.User != nil && username == "" {
		username = parsedProxy.User.Username()
		if p, set := parsedProxy.User.Password(); set {
			password = p
		}
		parsedProxy.User = nil
		proxy = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        timeout,
		KATimeout:      kaTimeout,
		ProxyURL:       proxy,
		ProxyUsername:  username,
		ProxyPassword:  password,
		UserAgent:      agent,
		Headers:        utils.ParseHeaderArgs(headers),
		HighThreadMode: connections > 5,
	}
}

func downloadOptions() downloader.Options {
	opts := downloader.DefaultOptions()
	opts.Threads = connections
	opts.Throttle = throttle
	opts.HTTP = globalHTTPConfig
	return opts
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", downloader.DefaultThreads, "Number of connections per download (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 4, "Number of downloads to run in parallel (0 for no limit)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", utils.DefaultTimeout, "Idle timeout per connection (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().DurationVarP(&throttle, "throttle", "r", downloader.DefaultThrottle, "Interval between progress updates")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newKillCmd())
	rootCmd.AddCommand(newCleanCmd())
}
