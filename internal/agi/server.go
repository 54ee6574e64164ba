// sentiric-dialer-service/internal/agi/server.go
package agi

import (
	"context"
	"net"

	"github.com/rs/zerolog"
)

// Handler, cevaplanan her çağrı için hazır bir AGI oturumuyla çağrılır.
// Oturumun kapatılması handler'ın sorumluluğundadır.
type Handler func(ctx context.Context, session *Session)

// Server, Asterisk'ten gelen FastAGI bağlantılarını kabul eder. Dialplan,
// cevaplanmış her dış aramayı bu sunucuya yönlendirir; böylece "cevaplandı"
// anı, AGI oturumunun kurulduğu andır.
type Server struct {
	addr    string
	handler Handler
	log     zerolog.Logger
}

func NewServer(addr string, handler Handler, log zerolog.Logger) *Server {
	return &Server{addr: addr, handler: handler, log: log}
}

// ListenAndServe, ctx iptal edilene kadar bağlantı kabul eder.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.addr)
	if err != nil {
		return err
	}
	srv.log.Info().Str("addr", srv.addr).Msg("🎧 FastAGI sunucusu dinleniyor.")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				srv.log.Info().Msg("FastAGI sunucusu durduruluyor.")
				return nil
			default:
			}
			srv.log.Warn().Err(err).Msg("AGI bağlantısı kabul edilemedi.")
			continue
		}

		go func(c net.Conn) {
			session, err := NewSession(c, srv.log)
			if err != nil {
				srv.log.Error().Err(err).Msg("AGI oturumu kurulamadı.")
				c.Close()
				return
			}
			srv.handler(ctx, session)
		}(conn)
	}
}
