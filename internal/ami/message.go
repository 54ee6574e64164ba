// sentiric-dialer-service/internal/ami/message.go
package ami

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
)

// Frame, AMI kontrol kanalındaki tek bir mesajdır: boş satırla biten
// "Key: Value" satırları. Hem aksiyon yanıtları hem olaylar bu biçimdedir.
type Frame map[string]string

func (f Frame) Get(key string) string { return f[key] }

// IsEvent, frame'in bir olay mı yoksa aksiyon yanıtı mı olduğunu söyler.
func (f Frame) IsEvent() bool { return f["Event"] != "" }

// readFrame, okuyucudan boş satıra kadar bir frame okur.
func readFrame(r *bufio.Reader) (Frame, error) {
	frame := make(Frame)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(frame) == 0 {
				continue // art arda boş satırları yoksay
			}
			return frame, nil
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		frame[key] = value
	}
}

// marshalAction, bir aksiyonu tel biçimine çevirir. "Variable" anahtarı
// özeldir: virgülle ayrılmış her değişken ayrı bir başlık satırı olur.
func marshalAction(action string, fields map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\n", action)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k == "Variable" {
			for _, v := range strings.Split(fields[k], ",") {
				fmt.Fprintf(&b, "Variable: %s\r\n", v)
			}
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", k, fields[k])
	}
	b.WriteString("\r\n")
	return b.String()
}

// EventKind, köprünün dışarıya yansıttığı yaşam döngüsü olay türleridir.
type EventKind string

const (
	EventAnswered        EventKind = "answered"
	EventEnded           EventKind = "ended"
	EventOriginateFailed EventKind = "originate_failed"
)

// Event, telefon platformundan gelen ham frame'lerin sadeleştirilmiş halidir.
// Number, köprünün kanal eşlemesinden doldurulur ve dispatcher'ın çağrı
// kayıtlarıyla aynı kimliği kullanmasını sağlar.
type Event struct {
	Kind     EventKind
	Number   string
	Channel  string
	UniqueID string
	BridgeID string
	Cause    string
}
