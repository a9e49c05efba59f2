package kernelsession

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// connectionInfo is the Jupyter connection-file schema: the five ports
// and the HMAC signing key a kernel (or, here, its client) uses to
// address the five standard sockets.
type connectionInfo struct {
	SignatureScheme string `json:"signature_scheme"`
	Transport       string `json:"transport"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	IOPubPort       int    `json:"iopub_port"`
	HBPort          int    `json:"hb_port"`
	ShellPort       int    `json:"shell_port"`
	Key             string `json:"key"`
	IP              string `json:"ip"`
}

// header is the Jupyter message header.
type header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// wireMessage is a parsed Jupyter protocol message.
type wireMessage struct {
	Header       header                 `json:"header"`
	ParentHeader header                 `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      map[string]interface{} `json:"content"`
}

const delimiter = "<IDS|MSG>"

func newHeader(session, msgType string) header {
	return header{
		MsgID:    uuid.NewString(),
		Username: "cellwright",
		Session:  session,
		MsgType:  msgType,
		Version:  "5.3",
		Date:     time.Now().UTC().Format(time.RFC3339),
	}
}

// encodeFrames serializes msg into the five Jupyter body frames and
// signs them with key, mirroring the HMAC-over-concatenated-frames
// scheme every Jupyter kernel implementation (including this toolkit's
// teacher, which implements the server half of the same protocol) uses.
func encodeFrames(msg *wireMessage, key string) ([][]byte, error) {
	h, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, err
	}
	ph, err := json.Marshal(msg.ParentHeader)
	if err != nil {
		return nil, err
	}
	md, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, err
	}
	ct, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(h)
	mac.Write(ph)
	mac.Write(md)
	mac.Write(ct)
	sig := hex.EncodeToString(mac.Sum(nil))

	return [][]byte{[]byte(delimiter), []byte(sig), h, ph, md, ct}, nil
}

// decodeFrames parses the frames of a received multipart message back
// into a wireMessage, locating the <IDS|MSG> delimiter first since
// Router sockets prepend routing identities.
func decodeFrames(frames [][]byte) (*wireMessage, error) {
	delimAt := -1
	for i, f := range frames {
		if string(f) == delimiter {
			delimAt = i
			break
		}
	}
	if delimAt == -1 || len(frames) < delimAt+6 {
		return nil, fmt.Errorf("kernelsession: message delimiter not found")
	}

	headerBytes := frames[delimAt+2]
	parentBytes := frames[delimAt+3]
	metaBytes := frames[delimAt+4]
	contentBytes := frames[delimAt+5]

	var m wireMessage
	if err := json.Unmarshal(headerBytes, &m.Header); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parentBytes, &m.ParentHeader); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaBytes, &m.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contentBytes, &m.Content); err != nil {
		return nil, err
	}
	return &m, nil
}
