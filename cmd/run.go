package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/output"
	"github.com/tanq16/sud/internal/scheduler"
	"github.com/tanq16/sud/internal/utils"
)

type downloadEntry struct {
	label string
	loc   downloader.Locations
}

// runDownloads queues every entry, renders progress until the queue drains
// and returns an error when any download failed. An interrupt stops all
// downloads, leaving them resumable.
func runDownloads(entries []downloadEntry) error {
	log := utils.GetLogger("cmd")
	manager := output.NewManager()
	sched := scheduler.New(scheduler.Options{
		AutoStart:              true,
		MaxConcurrentDownloads: workers,
		DownloadOptions:        downloadOptions(),
	})

	manager.StartDisplay()
	ids := make(map[string]int)
	for _, entry := range entries {
		id := manager.Register(entry.label)
		key, err := sched.QueueDownload("", entry.loc, downloader.Options{}, &progressObserver{manager: manager, id: id})
		if err != nil {
			manager.ReportError(id, err)
			continue
		}
		ids[key] = id
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; ok {
			log.Debug().Msg("Interrupt received, stopping downloads")
			sched.PauseAll(true)
		}
	}()

	err := sched.Wait(context.Background())
	for _, task := range sched.Tasks() {
		id, ok := ids[task.Key]
		if !ok || task.Status != scheduler.StatusStopped {
			continue
		}
		if task.MetadataPath != "" {
			manager.Warn(id, fmt.Sprintf("Stopped, resume with: sud resume %s", task.MetadataPath))
		} else {
			manager.Warn(id, "Stopped before the download began")
		}
	}
	manager.StopDisplay()
	if err != nil {
		return err
	}
	if failed := manager.Failures(); failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}
