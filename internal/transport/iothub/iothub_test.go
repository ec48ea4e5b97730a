// v0
// internal/transport/iothub/iothub_test.go
package iothub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

const testKey = "c2VjcmV0LWtleS1mb3ItdGVzdHM=" // base64("secret-key-for-tests")

func testConnString() string {
	return "HostName=rideau.azure-devices.net;DeviceId=dows-lake;SharedAccessKey=" + testKey
}

func TestParseConnectionString(t *testing.T) {
	t.Parallel()
	cs, err := ParseConnectionString(testConnString())
	require.NoError(t, err)
	assert.Equal(t, "rideau.azure-devices.net", cs.HostName)
	assert.Equal(t, "dows-lake", cs.DeviceID)
	assert.Equal(t, testKey, cs.SharedAccessKey)
	assert.Equal(t, "rideau.azure-devices.net/dows-lake/?api-version=2021-04-12", cs.Username())
}

func TestParseConnectionStringRejectsBadInput(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"empty":       "",
		"no host":     "DeviceId=a;SharedAccessKey=" + testKey,
		"no device":   "HostName=h;SharedAccessKey=" + testKey,
		"no key":      "HostName=h;DeviceId=a",
		"bad segment": "HostName=h;garbage;DeviceId=a;SharedAccessKey=" + testKey,
		"key not b64": "HostName=h;DeviceId=a;SharedAccessKey=***",
	}
	for name, raw := range cases {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseConnectionString(raw)
			require.ErrorIs(t, err, ErrMalformedConnectionString)
		})
	}
}

func TestSASTokenSignsResourceAndExpiry(t *testing.T) {
	t.Parallel()
	cs, err := ParseConnectionString(testConnString())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tok, err := cs.SASToken(now, time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tok, "SharedAccessSignature "))

	q, err := url.ParseQuery(strings.TrimPrefix(tok, "SharedAccessSignature "))
	require.NoError(t, err)
	assert.Equal(t, "rideau.azure-devices.net/devices/dows-lake", q.Get("sr"))
	assert.Equal(t, "1700003600", q.Get("se"))

	key, _ := base64.StdEncoding.DecodeString(testKey)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(url.QueryEscape(q.Get("sr")) + "\n" + q.Get("se")))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), q.Get("sig"))
}

func TestPropertyBag(t *testing.T) {
	t.Parallel()
	bag := PropertyBag(transport.Message{ContentType: "application/json", ContentEncoding: "utf-8", MessageID: "m-1"})
	assert.Equal(t, "$.ct=application%2Fjson&$.ce=utf-8&$.mid=m-1", bag)
	assert.Equal(t, "devices/nac/messages/events/", EventsTopic("nac"))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client

	opts       *mqtt.ClientOptions
	connectErr error
	publishErr error
	connected  bool

	mu           sync.Mutex
	published    []publishCall
	disconnected int
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken(c.connectErr) }
func (c *fakeClient) IsConnected() bool   { return c.connected }
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	c.mu.Unlock()
	return doneToken(c.publishErr)
}

func newTestTransport(fc *fakeClient) *Transport {
	return New(nil, WithClientFactory(func(o *mqtt.ClientOptions) mqtt.Client {
		fc.opts = o
		return fc
	}))
}

func TestAcquireAndSend(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connected: true}
	tr := newTestTransport(fc)

	h, err := tr.Acquire(context.Background(), testConnString())
	require.NoError(t, err)

	require.Equal(t, "dows-lake", fc.opts.ClientID)
	require.Equal(t, "tls://rideau.azure-devices.net:8883", fc.opts.Servers[0].String())
	user, pass := fc.opts.CredentialsProvider()
	assert.Equal(t, "rideau.azure-devices.net/dows-lake/?api-version=2021-04-12", user)
	assert.True(t, strings.HasPrefix(pass, "SharedAccessSignature sr="))

	msg := transport.Message{Body: []byte(`{"a":1}`), ContentType: "application/json", ContentEncoding: "utf-8", MessageID: "abc"}
	require.NoError(t, h.Send(context.Background(), msg))

	require.Len(t, fc.published, 1)
	assert.Equal(t, "devices/dows-lake/messages/events/$.ct=application%2Fjson&$.ce=utf-8&$.mid=abc", fc.published[0].topic)
	assert.Equal(t, byte(1), fc.published[0].qos)
	assert.Equal(t, msg.Body, fc.published[0].payload)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 1, fc.disconnected)
	require.ErrorIs(t, h.Send(context.Background(), msg), transport.ErrHandleInvalid)
}

func TestAcquireConnectFailure(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connectErr: errors.New("not authorized")}
	_, err := newTestTransport(fc).Acquire(context.Background(), testConnString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.Equal(t, 1, fc.disconnected)
}

func TestAcquireRejectsMalformedCredential(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	_, err := newTestTransport(fc).Acquire(context.Background(), "HostName=x")
	require.ErrorIs(t, err, ErrMalformedConnectionString)
	assert.Nil(t, fc.opts, "no client should be built for a bad credential")
}

func TestSendReportsInvalidHandleWhenDisconnected(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connected: true}
	h, err := newTestTransport(fc).Acquire(context.Background(), testConnString())
	require.NoError(t, err)

	fc.publishErr = errors.New("transient")
	err = h.Send(context.Background(), transport.Message{Body: []byte("x")})
	require.Error(t, err)
	require.NotErrorIs(t, err, transport.ErrHandleInvalid)

	// reconnecting: paho still reports connected, the send is only retried later
	fc.publishErr = mqtt.ErrNotConnected
	err = h.Send(context.Background(), transport.Message{Body: []byte("x")})
	require.ErrorIs(t, err, mqtt.ErrNotConnected)
	require.NotErrorIs(t, err, transport.ErrHandleInvalid)

	fc.connected = false
	fc.publishErr = mqtt.ErrNotConnected
	err = h.Send(context.Background(), transport.Message{Body: []byte("x")})
	require.ErrorIs(t, err, transport.ErrHandleInvalid)
}
