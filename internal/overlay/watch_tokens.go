package overlay

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchTokenFile remounts the Twitch connector whenever the token file
// changes. Editors and token refreshers often replace the file rather than
// write in place, so Remove/Rename re-add the path and a short debounce
// coalesces the event bursts.
func (rt *Runtime) watchTokenFile(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer w.Close()

		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						log.Printf("overlay: watch re-add %s: %v", ev.Name, err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				log.Printf("overlay: token file changed, remounting twitch connector")
				if err := rt.mountTwitch(ctx); err != nil {
					log.Printf("overlay: token reload failed: %v", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("overlay: watch error: %v", err)
			}
		}
	}()
	return nil
}
