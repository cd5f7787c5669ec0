package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStateMismatch はstateの署名が不正、またはコールバック時の操作主体と一致しないことを示す。
var ErrStateMismatch = errors.New("oauth state mismatch")

// State はOAuth認可リクエストとコールバックを対応づける値。サーバー側には保存しない。
type State struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

// StateCodec はStateのエンコード・デコードを行う。
// secretが設定されている場合は "<base64(JSON)>.<base64url(HMAC-SHA256)>" 形式で署名する。
// secretが空の場合は署名なしのbase64(JSON)となる。
type StateCodec struct {
	secret []byte
	now    func() time.Time
}

// NewStateCodec はStateCodecを生成する。
func NewStateCodec(secret string) *StateCodec {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &StateCodec{secret: key, now: time.Now}
}

// Signed は署名付きstateを発行・検証するかどうかを返す。
func (c *StateCodec) Signed() bool {
	return len(c.secret) > 0
}

// Encode はuserIDと現在時刻からstateを生成する。
func (c *StateCodec) Encode(userID string) (string, error) {
	payload, err := json.Marshal(State{UserID: userID, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	if !c.Signed() {
		return encoded, nil
	}
	return encoded + "." + c.sign(encoded), nil
}

// Decode はstateを復号する。署名付きモードでは署名を検証し、不正な場合はErrStateMismatchを返す。
func (c *StateCodec) Decode(raw string) (*State, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty state", ErrStateMismatch)
	}

	encoded, signature, hasSig := strings.Cut(raw, ".")
	if c.Signed() {
		if !hasSig || !hmac.Equal([]byte(signature), []byte(c.sign(encoded))) {
			return nil, fmt.Errorf("%w: bad signature", ErrStateMismatch)
		}
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	return &state, nil
}

// Verify はコールバック時に解決した操作主体とstateを照合する。
// 署名なしモードでは照合せず常にnilを返す。
func (c *StateCodec) Verify(raw, userID string) error {
	if !c.Signed() {
		return nil
	}
	state, err := c.Decode(raw)
	if err != nil {
		return err
	}
	if state.UserID != userID {
		return fmt.Errorf("%w: state issued for another user", ErrStateMismatch)
	}
	return nil
}

func (c *StateCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
