package scheduler

import "github.com/tanq16/sud/internal/downloader"

// Observer receives the feed of one task. Next is called for every event,
// then at most one of Error or Complete. Calls are never made while the
// scheduler holds its lock, so observers may call back into it.
type Observer interface {
	Next(downloader.Event)
	Error(error)
	Complete()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	NextFunc     func(downloader.Event)
	ErrorFunc    func(error)
	CompleteFunc func()
}

func (o ObserverFuncs) Next(e downloader.Event) {
	if o.NextFunc != nil {
		o.NextFunc(e)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.ErrorFunc != nil {
		o.ErrorFunc(err)
	}
}

func (o ObserverFuncs) Complete() {
	if o.CompleteFunc != nil {
		o.CompleteFunc()
	}
}
