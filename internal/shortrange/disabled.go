package shortrange

import (
	"context"
	"net/http"
)

// DisabledRadio stands in when no radio module is attached. It is never
// connected, so the link sends nothing and receives nothing.
type DisabledRadio struct{}

func (DisabledRadio) Notify([]byte) error               { return nil }
func (DisabledRadio) NotifyBulk([]byte) error           { return nil }
func (DisabledRadio) Receive() (string, bool)           { return "", false }
func (DisabledRadio) Connected() bool                   { return false }
func (DisabledRadio) Disconnect() error                 { return nil }
func (DisabledRadio) Close() error                      { return nil }
func (DisabledRadio) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (DisabledRadio) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/radio-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("radio disabled"))
	})
}
