package cmd

import (
	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/output"
)

// progressObserver forwards scheduler notifications of one download to its
// line in the output manager.
type progressObserver struct {
	manager *output.Manager
	id      int
}

func (o *progressObserver) Next(e downloader.Event) {
	if e.Descriptor != nil {
		o.manager.SetDescriptor(o.id, e.Descriptor)
	}
	if e.Progress != nil {
		o.manager.SetProgress(o.id, e.Progress)
	}
}

func (o *progressObserver) Error(err error) {
	o.manager.ReportError(o.id, err)
}

func (o *progressObserver) Complete() {
	o.manager.Complete(o.id, "")
}
