package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"Moonveil/internal/db"
	"Moonveil/internal/maps"
	"Moonveil/internal/wire"
)

var (
	netListenFunc = net.Listen
	acceptSleep   = time.Sleep
)

const (
	acceptBackoffStart = 50 * time.Millisecond
	acceptBackoffMax   = time.Second
)

// ListenAndServe opens the database, seeds it on first run, loads the world
// and serves clients on cfg.Addr until the context is cancelled or the
// listener fails.
func ListenAndServe(ctx context.Context, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	gw, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer gw.Close()
	if err := gw.Seed(ctx); err != nil {
		return fmt.Errorf("seed database: %w", err)
	}

	keys, err := wire.LoadKeyPair(filepath.Join(cfg.DataDir, "keys"))
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	provider := maps.NewProvider(filepath.Join(cfg.DataDir, "maps"))
	gamelog := NewGameLog(filepath.Join(cfg.DataDir, "logs"))
	defer gamelog.Close()

	world, err := NewWorld(cfg, gw, provider, gamelog, keys)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go world.Run(runCtx)

	ln, err := netListenFunc("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-runCtx.Done()
		_ = ln.Close()
	}()
	fmt.Printf("Moonveil listening on %s\n", ln.Addr())

	err = acceptConnections(ln, func(conn net.Conn) {
		go world.handleConn(conn)
	})
	if runCtx.Err() != nil {
		return nil
	}
	return err
}

// handleConn wires a fresh connection into the world: announce the public
// key in plaintext, start the writer, register with the tick loop, then
// read until the client goes away.
func (w *World) handleConn(conn net.Conn) {
	s := newSession(w, conn)
	s.writePacket(w.keys.PublicKeyPacket())

	go func() {
		for frame := range s.writeCh {
			if _, err := conn.Write(frame); err != nil {
				s.close()
				return
			}
		}
	}()

	w.joins <- s
	s.readLoop()
}

func acceptConnections(ln net.Listener, handle func(net.Conn)) error {
	backoff := acceptBackoffStart
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isTemporaryAcceptError(err) {
				fmt.Printf("Temporary error accepting connection: %v; retrying in %s\n", err, backoff)
				acceptSleep(backoff)
				backoff *= 2
				if backoff > acceptBackoffMax {
					backoff = acceptBackoffMax
				}
				continue
			}
			return err
		}
		backoff = acceptBackoffStart
		handle(conn)
	}
}

func isTemporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() || ne.Temporary() {
			return true
		}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return false
}
