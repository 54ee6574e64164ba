// sentiric-dialer-service/internal/agi/session_test.go
package agi

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPreamble = "agi_network: yes\n" +
	"agi_channel: PJSIP/905551234567-00000001\n" +
	"agi_uniqueid: 1700000000.42\n" +
	"agi_callerid: 1000\n" +
	"\n"

// scriptedPeer, tek satırlık komutlara sırayla sabit yanıtlar veren sahte
// platform ucudur.
func scriptedPeer(t *testing.T, replies ...string) (*Session, chan string) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	commands := make(chan string, len(replies)+1)

	go func() {
		serverConn.Write([]byte(testPreamble))
		reader := bufio.NewReader(serverConn)
		for _, reply := range replies {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			commands <- strings.TrimRight(line, "\n")
			serverConn.Write([]byte(reply + "\n"))
		}
	}()

	session, err := NewSession(clientConn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close(); serverConn.Close() })
	return session, commands
}

func TestNewSessionParsesPreamble(t *testing.T) {
	session, _ := scriptedPeer(t)

	assert.Equal(t, "PJSIP/905551234567-00000001", session.Channel())
	assert.Equal(t, "1700000000.42", session.UniqueID())
	assert.Equal(t, "1000", session.CallerID())
	assert.Equal(t, "yes", session.Env("network"))
}

func TestParseReply(t *testing.T) {
	reply, err := parseReply("200 result=1 (12345)")
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Code)
	assert.Equal(t, 1, reply.Result)
	assert.Equal(t, "12345", reply.Extra)

	reply, err = parseReply("200 result=-1")
	require.NoError(t, err)
	assert.Equal(t, -1, reply.Result)
	assert.Empty(t, reply.Extra)

	_, err = parseReply("bozuk yanıt")
	assert.Error(t, err)
}

func TestGetVariable(t *testing.T) {
	session, commands := scriptedPeer(t,
		"200 result=1 (905551234567)",
		"200 result=0",
	)

	val, err := session.GetVariable(context.Background(), "DIALER_NUMBER")
	require.NoError(t, err)
	assert.Equal(t, "905551234567", val)
	assert.Equal(t, "GET VARIABLE DIALER_NUMBER", <-commands)

	// Tanımsız değişken hata değildir, boş string döner.
	val, err = session.GetVariable(context.Background(), "YOK")
	require.NoError(t, err)
	assert.Empty(t, val)
}

func TestCommandRejectsNon200(t *testing.T) {
	session, _ := scriptedPeer(t, "510 result=0")

	_, err := session.Command(context.Background(), time.Second, "BILINMEYEN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reddedildi")
}

func TestRecordFileCommandFormat(t *testing.T) {
	session, commands := scriptedPeer(t, "200 result=0 (timeout)")

	reply, err := session.RecordFile(context.Background(), "/tmp/call-1-turn-001", "wav", "#", 15*time.Second, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, reply.Result)
	assert.Equal(t, "RECORD FILE /tmp/call-1-turn-001 wav # 15000 s=2", <-commands)
}

func TestSessionEndsOnPeerClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	go func() {
		serverConn.Write([]byte(testPreamble))
		serverConn.Close()
	}()

	session, err := NewSession(clientConn, zerolog.Nop())
	require.NoError(t, err)

	_, err = session.Command(context.Background(), time.Second, "ANSWER")
	require.Error(t, err)

	// Oturum artık kalıcı olarak kapalıdır.
	_, err = session.Command(context.Background(), time.Second, "ANSWER")
	assert.ErrorIs(t, err, ErrSessionEnded)
}
