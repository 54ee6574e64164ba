// sentiric-dialer-service/internal/ami/message_test.go
package ami

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrame(t *testing.T) {
	raw := "Response: Success\r\nActionID: abc-123\r\nMessage: Authentication accepted\r\n\r\n"
	frame, err := readFrame(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.Equal(t, "Success", frame.Get("Response"))
	assert.Equal(t, "abc-123", frame.Get("ActionID"))
	assert.False(t, frame.IsEvent())
}

func TestReadFrameSkipsLeadingBlankLines(t *testing.T) {
	raw := "\r\n\r\nEvent: Hangup\r\nChannel: PJSIP/905551234567-00000001\r\nCause-txt: Normal Clearing\r\n\r\n"
	frame, err := readFrame(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.True(t, frame.IsEvent())
	assert.Equal(t, "Hangup", frame.Get("Event"))
	assert.Equal(t, "Normal Clearing", frame.Get("Cause-txt"))
}

func TestReadFrameIgnoresMalformedLines(t *testing.T) {
	raw := "Event: Newstate\r\nbozuk satır\r\nChannelStateDesc: Up\r\n\r\n"
	frame, err := readFrame(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.Equal(t, "Up", frame.Get("ChannelStateDesc"))
	assert.Empty(t, frame.Get("bozuk satır"))
}

func TestMarshalActionIsDeterministic(t *testing.T) {
	out := marshalAction("Hangup", map[string]string{
		"Channel":  "PJSIP/905551234567-00000001",
		"ActionID": "abc",
	})

	assert.Equal(t, "Action: Hangup\r\nActionID: abc\r\nChannel: PJSIP/905551234567-00000001\r\n\r\n", out)
}

func TestMarshalActionSplitsVariables(t *testing.T) {
	out := marshalAction("Originate", map[string]string{
		"ActionID": "abc",
		"Variable": "DIALER_NUMBER=905551234567,DIALER_CALL_ID=call-1",
	})

	assert.Contains(t, out, "Variable: DIALER_NUMBER=905551234567\r\n")
	assert.Contains(t, out, "Variable: DIALER_CALL_ID=call-1\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}
