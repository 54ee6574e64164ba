// sentiric-dialer-service/internal/agi/session.go
package agi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Oturum durumları. Oturum preamble okunduktan sonra "ready" olur; soket
// kapanınca koşulsuz olarak "ended" durumuna geçer.
type sessionState int

const (
	stateAwaitingPreamble sessionState = iota
	stateReady
	stateCommandOutstanding
	stateEnded
)

const (
	// Basit komutlar (GET/SET VARIABLE, ANSWER) için varsayılan bekleme.
	DefaultCommandTimeout = 5 * time.Second
	// EXEC gibi uygulama çalıştıran komutlar için varsayılan bekleme.
	ExecCommandTimeout = 10 * time.Second
)

var ErrSessionEnded = fmt.Errorf("agi oturumu sonlandı")

// replyRe, tek satırlık AGI yanıt gramerini eşler: "200 result=<n> (<extra>)"
var replyRe = regexp.MustCompile(`^(\d{3}) result=(-?\d+)(?:\s+\((.*)\))?`)

// Reply, bir AGI komutunun tek satırlık yanıtını temsil eder.
type Reply struct {
	Code   int
	Result int
	Extra  string
	Raw    string
}

// Session, tek bir çağrı bacağının betiklenmiş kontrolünü sağlayan FastAGI
// oturumudur. Yanıtlar istek kimliğiyle değil varış sırasıyla eşleştiği için
// aynı anda yalnızca TEK komut gönderilebilir; bu disiplin mutex ile zorlanır.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	log    zerolog.Logger

	env map[string]string

	mu    sync.Mutex // komut disiplini: yazma + yanıt okuma tek blok
	stMu  sync.Mutex
	state sessionState
}

// NewSession, bağlantı üzerinden "agi_<key>: <value>" preamble'ını boş satıra
// kadar okur ve oturumu "ready" durumuna geçirir.
func NewSession(conn net.Conn, log zerolog.Logger) (*Session, error) {
	s := &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		log:    log,
		env:    make(map[string]string),
		state:  stateAwaitingPreamble,
	}

	conn.SetReadDeadline(time.Now().Add(DefaultCommandTimeout))
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.end()
			return nil, fmt.Errorf("agi preamble okunamadı: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		s.env[strings.TrimPrefix(key, "agi_")] = value
	}
	conn.SetReadDeadline(time.Time{})

	s.setState(stateReady)
	s.log.Debug().Str("channel", s.Channel()).Str("unique_id", s.UniqueID()).Msg("AGI oturumu hazır.")
	return s, nil
}

func (s *Session) setState(st sessionState) {
	s.stMu.Lock()
	s.state = st
	s.stMu.Unlock()
}

func (s *Session) ended() bool {
	s.stMu.Lock()
	defer s.stMu.Unlock()
	return s.state == stateEnded
}

func (s *Session) end() {
	s.setState(stateEnded)
}

// Env, preamble'dan gelen bir değişkeni döndürür (ör. "channel", "uniqueid").
func (s *Session) Env(key string) string {
	return s.env[key]
}

func (s *Session) Channel() string  { return s.env["channel"] }
func (s *Session) UniqueID() string { return s.env["uniqueid"] }
func (s *Session) CallerID() string { return s.env["callerid"] }

// Command, tek bir AGI komutu gönderir ve tek satırlık yanıtını bekler.
// Zaman aşımı veya soket kapanması bekleyen komutu hata ile serbest bırakır.
func (s *Session) Command(ctx context.Context, timeout time.Duration, cmd string) (*Reply, error) {
	if s.ended() {
		return nil, ErrSessionEnded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Kilit beklenirken oturum sonlanmış olabilir.
	if s.ended() {
		return nil, ErrSessionEnded
	}
	s.setState(stateCommandOutstanding)
	defer func() {
		if !s.ended() {
			s.setState(stateReady)
		}
	}()

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	s.conn.SetDeadline(deadline)
	defer s.conn.SetDeadline(time.Time{})

	if _, err := fmt.Fprintf(s.conn, "%s\n", cmd); err != nil {
		s.end()
		return nil, fmt.Errorf("agi komutu yazılamadı: %w", err)
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		s.end()
		return nil, fmt.Errorf("agi yanıtı okunamadı: %w", err)
	}

	reply, err := parseReply(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return nil, err
	}
	if reply.Code != 200 {
		return reply, fmt.Errorf("agi komutu reddedildi: %s", reply.Raw)
	}
	return reply, nil
}

func parseReply(line string) (*Reply, error) {
	m := replyRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("agi yanıtı çözümlenemedi: %q", line)
	}
	code, _ := strconv.Atoi(m[1])
	result, _ := strconv.Atoi(m[2])
	return &Reply{Code: code, Result: result, Extra: m[3], Raw: line}, nil
}

// Answer, çağrı bacağını açar.
func (s *Session) Answer(ctx context.Context) error {
	_, err := s.Command(ctx, DefaultCommandTimeout, "ANSWER")
	return err
}

// Exec, bir dialplan uygulamasını çalıştırır (ör. "EXEC Playback beep").
func (s *Session) Exec(ctx context.Context, timeout time.Duration, app, args string) (*Reply, error) {
	return s.Command(ctx, timeout, fmt.Sprintf("EXEC %s %s", app, args))
}

// GetVariable, kanal değişkenini okur; değişken tanımsızsa boş string döner.
func (s *Session) GetVariable(ctx context.Context, name string) (string, error) {
	reply, err := s.Command(ctx, DefaultCommandTimeout, fmt.Sprintf("GET VARIABLE %s", name))
	if err != nil {
		return "", err
	}
	if reply.Result != 1 {
		return "", nil
	}
	return reply.Extra, nil
}

// SetVariable, kanal değişkeni yazar.
func (s *Session) SetVariable(ctx context.Context, name, value string) error {
	_, err := s.Command(ctx, DefaultCommandTimeout, fmt.Sprintf("SET VARIABLE %s %s", name, value))
	return err
}

// StreamFile, hazırlanmış bir ses dosyasını çalar ve çalma bitene kadar bloklar.
// maxWait, platform tamamlanma sinyali göndermezse devreye giren yerel bekçidir.
func (s *Session) StreamFile(ctx context.Context, maxWait time.Duration, path string) error {
	_, err := s.Command(ctx, maxWait, fmt.Sprintf("STREAM FILE %s \"\"", path))
	return err
}

// RecordFile, arayanın sesini kaydeder. Kayıt; sessizlik eşiği, azami süre
// veya sonlandırıcı tuş ile biter. Yanıt, kaydın nasıl bittiğini taşır.
func (s *Session) RecordFile(ctx context.Context, path, format, escapeDigits string, maxDuration time.Duration, silenceSeconds int) (*Reply, error) {
	cmd := fmt.Sprintf("RECORD FILE %s %s %s %d s=%d",
		path, format, escapeDigits, maxDuration.Milliseconds(), silenceSeconds)
	// Bekçi süresi kayıt süresinden uzun olmalı, yoksa sağlıklı kayıtlar kesilir.
	return s.Command(ctx, maxDuration+10*time.Second, cmd)
}

// Hangup, kanalı kapatır. Kanal zaten gitmişse hata üretmez.
func (s *Session) Hangup(ctx context.Context) {
	if _, err := s.Command(ctx, DefaultCommandTimeout, "HANGUP"); err != nil {
		s.log.Debug().Err(err).Msg("HANGUP yanıtsız kaldı, kanal muhtemelen zaten kapalı.")
	}
}

// Close, soketi kapatır ve oturumu "ended" durumuna geçirir.
func (s *Session) Close() error {
	s.end()
	return s.conn.Close()
}
