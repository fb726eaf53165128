package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/peer"
	"github.com/bitfsorg/libblocks-go/vault"
)

// EnvServeToken, when set, is the bearer token required on GET /blocks/{hash}.
const EnvServeToken = "LIBBLOCKS_SERVE_TOKEN"

// newServeRouter routes the peer websocket endpoint and an origin-style
// GET /blocks/{hash} over the local store.
func newServeRouter(v *vault.Vault, token string) *mux.Router {
	r := mux.NewRouter()
	if h := v.PeerHandler(); h != nil {
		r.Handle(peer.WSPath, h)
	}
	r.HandleFunc("/blocks/{hash}", blockHandler(v, token)).Methods(http.MethodGet)
	return r
}

func blockHandler(v *vault.Vault, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		h, err := block.ParseHash(mux.Vars(r)["hash"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := v.GetLocalBlock(r.Context(), h)
		switch {
		case errors.Is(err, vault.ErrLocked):
			http.Error(w, "store locked", http.StatusServiceUnavailable)
		case err != nil:
			v.Logger().WithFields(logrus.Fields{"hash": h.String()}).WithError(err).Error("serve: read failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		case data == nil:
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(data)
		}
	}
}

// serve runs the HTTP endpoint and the eviction sweeper until ctx ends.
func serve(ctx context.Context, v *vault.Vault, addr, token string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServeRouter(v, token),
		ReadHeaderTimeout: 10 * time.Second,
	}

	v.StartEvictionSweep()
	defer v.StopEvictionSweep()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	v.Logger().WithFields(logrus.Fields{"addr": addr}).Info("serve: listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
