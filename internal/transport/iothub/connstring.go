// v0
// internal/transport/iothub/connstring.go
package iothub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedConnectionString is wrapped by every parse failure.
var ErrMalformedConnectionString = errors.New("malformed IoT Hub connection string")

// ConnectionString is a parsed device connection string of the form
// HostName=<hub>.azure-devices.net;DeviceId=<id>;SharedAccessKey=<base64>.
type ConnectionString struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
}

// ParseConnectionString splits raw into its fields. Unknown keys are
// ignored; HostName, DeviceId and SharedAccessKey are required.
func ParseConnectionString(raw string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(strings.TrimSpace(raw), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// keys may contain '=' padding in the value, split on the first only
		idx := strings.Index(part, "=")
		if idx <= 0 {
			return ConnectionString{}, fmt.Errorf("%w: segment %q", ErrMalformedConnectionString, part)
		}
		key, value := part[:idx], part[idx+1:]
		switch key {
		case "HostName":
			cs.HostName = value
		case "DeviceId":
			cs.DeviceID = value
		case "SharedAccessKey":
			cs.SharedAccessKey = value
		}
	}
	switch {
	case cs.HostName == "":
		return ConnectionString{}, fmt.Errorf("%w: HostName missing", ErrMalformedConnectionString)
	case cs.DeviceID == "":
		return ConnectionString{}, fmt.Errorf("%w: DeviceId missing", ErrMalformedConnectionString)
	case cs.SharedAccessKey == "":
		return ConnectionString{}, fmt.Errorf("%w: SharedAccessKey missing", ErrMalformedConnectionString)
	}
	if _, err := base64.StdEncoding.DecodeString(cs.SharedAccessKey); err != nil {
		return ConnectionString{}, fmt.Errorf("%w: SharedAccessKey is not base64: %v", ErrMalformedConnectionString, err)
	}
	return cs, nil
}

// ResourceURI is the audience the SAS token is scoped to.
func (c ConnectionString) ResourceURI() string {
	return c.HostName + "/devices/" + url.PathEscape(c.DeviceID)
}

// Username is the MQTT username IoT Hub expects for a device.
func (c ConnectionString) Username() string {
	return c.HostName + "/" + c.DeviceID + "/?api-version=" + APIVersion
}

// SASToken signs a shared access signature valid until now+ttl.
func (c ConnectionString) SASToken(now time.Time, ttl time.Duration) (string, error) {
	key, err := base64.StdEncoding.DecodeString(c.SharedAccessKey)
	if err != nil {
		return "", fmt.Errorf("decode shared access key: %w", err)
	}
	sr := url.QueryEscape(c.ResourceURI())
	se := strconv.FormatInt(now.Add(ttl).Unix(), 10)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sr + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", sr, url.QueryEscape(sig), se), nil
}
