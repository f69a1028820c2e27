// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// watcher reports modifications of a run file.
type watcher struct {
	w        *fsnotify.Watcher
	fname    string
	modified atomic.Bool
	wg       sync.WaitGroup
}

func newWatcher(fname string, msg msgStream) (*watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create file watcher: %w", err)
	}

	// editors often replace files: watch the directory and filter.
	err = w.Add(filepath.Dir(fname))
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("could not watch %q: %w", fname, err)
	}

	fw := &watcher{w: w, fname: filepath.Clean(fname)}
	fw.wg.Add(1)
	go fw.run(msg)
	return fw, nil
}

func (fw *watcher) run(msg msgStream) {
	defer fw.wg.Done()
	for {
		select {
		case evt, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != fw.fname {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if !fw.modified.Swap(true) {
				msg.Infof("run file %q modified (%v)", fw.fname, evt.Op)
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			msg.Errorf("could not watch run file %q: %+v", fw.fname, err)
		}
	}
}

func (fw *watcher) Close() error {
	err := fw.w.Close()
	fw.wg.Wait()
	return err
}
