// sentiric-dialer-service/internal/ami/client.go
package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	dialTimeout      = 10 * time.Second
	requestTimeout   = 10 * time.Second
	reconnectRetries = 5
	reconnectDelay   = 2 * time.Second

	channelTech = "PJSIP"
)

// Config, AMI kontrol kanalı bağlantı ayarlarını taşır.
type Config struct {
	Addr          string
	Username      string
	Secret        string
	Context       string // cevaplanan çağrının yönlendirileceği dialplan bağlamı
	CallerID      string
	AnswerTimeout time.Duration
}

// Client, Asterisk Manager Interface üzerinden çağrı başlatır, kapatır ve
// yaşam döngüsü olaylarını sadeleştirilmiş Event değerlerine çevirir.
//
// Originate asenkrondur: aksiyonun kabulü çağrının başarısı DEĞİLDİR; sonuç
// OriginateResponse/Newstate/Hangup olaylarıyla gelir. Beklenmeyen kopmalarda
// sınırlı sayıda yeniden bağlanma denenir; denemeler tükenirse hata Fatal()
// kanalına yazılır, sessizce yutulmaz.
type Client struct {
	cfg Config
	log zerolog.Logger

	writeMu sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader

	pendingMu sync.Mutex
	pending   map[string]chan Frame

	// Kanal/aksiyon -> numara eşlemeleri: olaylar numara ile damgalanır ki
	// dispatcher ile köprü aynı çağrı kimliği üzerinde anlaşsın. pendingUp,
	// OriginateResponse'tan ÖNCE gelen "Up" olaylarını kanal eşleşene kadar
	// bekletir; asenkron originate'te platform bu sırayı garanti etmez.
	corrMu         sync.Mutex
	actionNumbers  map[string]string
	channelNumbers map[string]string
	pendingUp      map[string]Frame

	events chan Event
	fatal  chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:            cfg,
		log:            log.With().Str("component", "ami").Logger(),
		pending:        make(map[string]chan Frame),
		actionNumbers:  make(map[string]string),
		channelNumbers: make(map[string]string),
		pendingUp:      make(map[string]Frame),
		events:         make(chan Event, 64),
		fatal:          make(chan error, 1),
		closed:         make(chan struct{}),
	}
}

// Events, sadeleştirilmiş yaşam döngüsü olaylarını taşır.
func (c *Client) Events() <-chan Event { return c.events }

// Fatal, yeniden bağlanma denemeleri tükendiğinde hata taşır.
func (c *Client) Fatal() <-chan error { return c.fatal }

// Connect, kontrol kanalını kurar, oturum açar ve okuma döngüsünü başlatır.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dialAndLogin(ctx); err != nil {
		return fmt.Errorf("AMI bağlantısı kurulamadı: %w", err)
	}
	go c.readLoop()
	c.log.Info().Str("addr", c.cfg.Addr).Msg("📡 AMI kontrol kanalı bağlandı.")
	return nil
}

func (c *Client) dialAndLogin(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	banner, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return fmt.Errorf("AMI banner okunamadı: %w", err)
	}
	if !strings.Contains(banner, "Asterisk Call Manager") {
		conn.Close()
		return fmt.Errorf("beklenmeyen AMI banner: %q", strings.TrimSpace(banner))
	}
	conn.SetReadDeadline(time.Time{})

	c.writeMu.Lock()
	c.conn = conn
	c.reader = reader
	c.writeMu.Unlock()

	// Login yanıtı senkron okunur; okuma döngüsü henüz çalışmıyor.
	actionID := uuid.New().String()
	login := marshalAction("Login", map[string]string{
		"ActionID": actionID,
		"Username": c.cfg.Username,
		"Secret":   c.cfg.Secret,
		"Events":   "on",
	})
	if _, err := conn.Write([]byte(login)); err != nil {
		conn.Close()
		return fmt.Errorf("login aksiyonu yazılamadı: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	frame, err := readFrame(reader)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("login yanıtı okunamadı: %w", err)
	}
	if frame.Get("Response") != "Success" {
		conn.Close()
		return fmt.Errorf("AMI oturumu reddedildi: %s", frame.Get("Message"))
	}
	return nil
}

// Originate, verilen numarayı çaldırır ve cevaplanırsa çağrıyı bu uygulamanın
// dialplan bağlamına yönlendirir. Asenkron çalışır: dönen nil yalnızca
// aksiyonun platform tarafından kuyruğa alındığını gösterir.
func (c *Client) Originate(ctx context.Context, number, callID string, campaignID int64) error {
	actionID := uuid.New().String()

	c.corrMu.Lock()
	c.actionNumbers[actionID] = number
	c.corrMu.Unlock()

	vars := fmt.Sprintf("DIALER_NUMBER=%s,DIALER_CALL_ID=%s,DIALER_CAMPAIGN_ID=%d", number, callID, campaignID)
	_, err := c.request(ctx, "Originate", map[string]string{
		"ActionID": actionID,
		"Channel":  fmt.Sprintf("%s/%s", channelTech, number),
		"Context":  c.cfg.Context,
		"Exten":    "s",
		"Priority": "1",
		"CallerID": c.cfg.CallerID,
		"Timeout":  fmt.Sprintf("%d", c.cfg.AnswerTimeout.Milliseconds()),
		"Async":    "true",
		"Variable": vars,
	})
	if err != nil {
		c.corrMu.Lock()
		delete(c.actionNumbers, actionID)
		c.corrMu.Unlock()
		return fmt.Errorf("originate aksiyonu başarısız: %w", err)
	}
	return nil
}

// Hangup, kanalı kapatır. Kanal zaten yok olmuşsa bu bir hata değildir.
func (c *Client) Hangup(ctx context.Context, channel string) {
	if _, err := c.request(ctx, "Hangup", map[string]string{
		"ActionID": uuid.New().String(),
		"Channel":  channel,
	}); err != nil {
		c.log.Debug().Err(err).Str("channel", channel).Msg("Hangup aksiyonu yanıtsız, kanal muhtemelen zaten kapalı.")
	}
}

// request, bir aksiyon gönderir ve eşleşen yanıt frame'ini bekler.
func (c *Client) request(ctx context.Context, action string, fields map[string]string) (Frame, error) {
	actionID := fields["ActionID"]
	replyCh := make(chan Frame, 1)

	c.pendingMu.Lock()
	c.pending[actionID] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, actionID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = fmt.Errorf("AMI bağlantısı yok")
	} else {
		_, err = conn.Write([]byte(marshalAction(action, fields)))
	}
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case frame, ok := <-replyCh:
		if !ok {
			return nil, fmt.Errorf("AMI bağlantısı yanıt beklenirken koptu")
		}
		if frame.Get("Response") == "Error" {
			return frame, fmt.Errorf("AMI aksiyonu reddedildi: %s", frame.Get("Message"))
		}
		return frame, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("AMI aksiyonu zaman aşımına uğradı: %s", action)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("AMI istemcisi kapatıldı")
	}
}

func (c *Client) readLoop() {
	for {
		frame, err := readFrame(c.reader)
		if err != nil {
			c.failPending(err)
			select {
			case <-c.closed:
				return
			default:
			}
			if recErr := c.reconnect(); recErr != nil {
				return
			}
			continue
		}
		c.dispatch(frame)
	}
}

// failPending, kopan bağlantıda bekleyen tüm aksiyonları hata ile serbest bırakır.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	c.log.Warn().Err(err).Msg("AMI kontrol kanalı koptu, bekleyen aksiyonlar serbest bırakıldı.")
}

func (c *Client) reconnect() error {
	var err error
	for i := 0; i < reconnectRetries; i++ {
		select {
		case <-c.closed:
			return fmt.Errorf("istemci kapatıldı")
		case <-time.After(time.Duration(i+1) * reconnectDelay):
		}

		if err = c.dialAndLogin(context.Background()); err == nil {
			c.log.Info().Int("attempt", i+1).Msg("AMI bağlantısı yeniden kuruldu.")
			return nil
		}
		c.log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", reconnectRetries).Msg("AMI'ye yeniden bağlanılamadı...")
	}

	// Denemeler tükendi: bu ölümcül bir durumdur ve sahibine bildirilir.
	select {
	case c.fatal <- fmt.Errorf("maksimum deneme (%d) sonrası AMI'ye yeniden bağlanılamadı: %w", reconnectRetries, err):
	default:
	}
	return err
}

func (c *Client) dispatch(frame Frame) {
	if actionID := frame.Get("ActionID"); actionID != "" && !frame.IsEvent() {
		c.pendingMu.Lock()
		ch, ok := c.pending[actionID]
		c.pendingMu.Unlock()
		if ok {
			ch <- frame
			return
		}
	}

	if !frame.IsEvent() {
		return
	}

	switch frame.Get("Event") {
	case "OriginateResponse":
		c.handleOriginateResponse(frame)
	case "Newstate":
		if frame.Get("ChannelStateDesc") == "Up" {
			c.emitAnswered(frame)
		}
	case "Hangup":
		c.emitEnded(frame)
	}
}

func (c *Client) handleOriginateResponse(frame Frame) {
	actionID := frame.Get("ActionID")
	channel := frame.Get("Channel")

	c.corrMu.Lock()
	number := c.actionNumbers[actionID]
	delete(c.actionNumbers, actionID)
	var bufferedUp Frame
	if frame.Get("Response") == "Success" && number != "" {
		c.channelNumbers[channel] = number
		// Kanal "Up" olayı bu yanıttan önce gelmiş olabilir; şimdi eşleşti.
		if up, ok := c.pendingUp[channel]; ok {
			delete(c.pendingUp, channel)
			bufferedUp = up
		}
	}
	c.corrMu.Unlock()

	if number == "" {
		return
	}
	if frame.Get("Response") != "Success" {
		c.emit(Event{
			Kind:    EventOriginateFailed,
			Number:  number,
			Channel: channel,
			Cause:   frame.Get("Reason"),
		})
		return
	}
	if bufferedUp != nil {
		c.emit(Event{
			Kind:     EventAnswered,
			Number:   number,
			Channel:  channel,
			UniqueID: bufferedUp.Get("Uniqueid"),
			BridgeID: bufferedUp.Get("BridgeId"),
		})
	}
}

func (c *Client) emitAnswered(frame Frame) {
	channel := frame.Get("Channel")
	c.corrMu.Lock()
	number := c.channelNumbers[channel]
	if number == "" {
		// Henüz eşleşmeyen kanal: OriginateResponse gecikmiş olabilir. Olay
		// bekletilir; yabancı kanalların kaydı Hangup geldiğinde düşer.
		c.pendingUp[channel] = frame
		c.corrMu.Unlock()
		return
	}
	c.corrMu.Unlock()
	c.emit(Event{
		Kind:     EventAnswered,
		Number:   number,
		Channel:  channel,
		UniqueID: frame.Get("Uniqueid"),
		BridgeID: frame.Get("BridgeId"),
	})
}

func (c *Client) emitEnded(frame Frame) {
	channel := frame.Get("Channel")
	c.corrMu.Lock()
	number := c.channelNumbers[channel]
	delete(c.channelNumbers, channel)
	delete(c.pendingUp, channel)
	c.corrMu.Unlock()
	if number == "" {
		return
	}
	cause := frame.Get("Cause-txt")
	if cause == "" {
		cause = frame.Get("Cause")
	}
	c.emit(Event{
		Kind:     EventEnded,
		Number:   number,
		Channel:  channel,
		UniqueID: frame.Get("Uniqueid"),
		Cause:    cause,
	})
}

// emit, olayı tüketiciye iletir; istemci kapatıldıysa bloklamadan düşürür.
// Kapanışta okuma döngüsü dolu bir kanala yazmaya çalışıp sızıntı yapamaz.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// Close, kontrol kanalını kapatır. Fatal kanalına yazılmaz; bu istemli bir kapanıştır.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.writeMu.Unlock()
	})
}
