package wecom

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func cryptWithKey(t *testing.T, fill byte, receiveID string) *Crypt {
	t.Helper()
	key := strings.TrimRight(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{fill}, 32)), "=")
	crypt, err := NewCrypt("token", key, receiveID)
	if err != nil {
		t.Fatalf("create crypt: %v", err)
	}
	return crypt
}

func TestNewCryptValidatesInput(t *testing.T) {
	good := strings.TrimRight(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)), "=")
	cases := []struct {
		name  string
		token string
		key   string
	}{
		{"missing token", "", good},
		{"bad base64", "token", "!!!"},
		{"short key", "token", strings.TrimRight(base64.StdEncoding.EncodeToString([]byte("short")), "=")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCrypt(tc.token, tc.key, ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCryptCarriesSnapshotReply(t *testing.T) {
	crypt := cryptWithKey(t, 0x11, "corp")
	cases := []struct {
		content string
		finish  bool
	}{
		{"你好", false},
		{"你好，世界。" + strings.Repeat("长", 300), true},
	}
	for _, tc := range cases {
		resp, err := crypt.EncryptResponse(BuildStreamReply("s1", tc.content, tc.finish), "", "")
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if resp.Timestamp == "" || resp.Nonce == "" {
			t.Fatalf("timestamp and nonce should be generated: %+v", resp)
		}
		msg := decryptReply(t, crypt, resp)
		if msg.Stream == nil || msg.Stream.ID != "s1" || msg.Stream.Content != tc.content || msg.Stream.Finish != tc.finish {
			t.Fatalf("unexpected stream payload %#v", msg.Stream)
		}
	}
}

func TestCryptRejectsForeignReceiveID(t *testing.T) {
	sender := cryptWithKey(t, 0x22, "corp-a")
	receiver := cryptWithKey(t, 0x22, "corp-b")
	resp, err := sender.EncryptResponse(BuildStreamReply("s1", "hi", false), "1700000000", "nonce")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	_, err = receiver.DecryptMessage(resp.MsgSignature, resp.Timestamp, resp.Nonce, EncryptedRequest{Encrypt: resp.Encrypt})
	if !errors.Is(err, ErrInvalidReceiveID) {
		t.Fatalf("expected ErrInvalidReceiveID, got %v", err)
	}

	// An empty configured receive id skips the check (smart bot callbacks).
	open := cryptWithKey(t, 0x22, "")
	if _, err := open.DecryptMessage(resp.MsgSignature, resp.Timestamp, resp.Nonce, EncryptedRequest{Encrypt: resp.Encrypt}); err != nil {
		t.Fatalf("decrypt without receive id: %v", err)
	}
}

func TestCryptSignatureChecks(t *testing.T) {
	crypt := cryptWithKey(t, 0x33, "")
	echo, err := crypt.encrypt([]byte("echo"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sig := calcSignature("token", "1700000000", "nonce", echo)

	cases := []struct {
		name      string
		signature string
		wantErr   error
	}{
		{"exact", sig, nil},
		{"upper hex", strings.ToUpper(sig), nil},
		{"flipped digit", flipLastHex(sig), ErrInvalidSignature},
		{"truncated", sig[:len(sig)-1], ErrInvalidSignature},
		{"empty", "", ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plain, err := crypt.VerifyURL(tc.signature, "1700000000", "nonce", echo)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("VerifyURL err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && plain != "echo" {
				t.Fatalf("unexpected plaintext %q", plain)
			}
			_, err = crypt.DecryptMessage(tc.signature, "1700000000", "nonce", EncryptedRequest{Encrypt: echo})
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("DecryptMessage err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func flipLastHex(s string) string {
	last := s[len(s)-1]
	repl := byte('0')
	if last == '0' {
		repl = '1'
	}
	return s[:len(s)-1] + string(repl)
}

// Vector from the WeCom callback encryption documentation.
func TestCryptDecryptsPublishedVector(t *testing.T) {
	crypt, err := NewCrypt("QDG6eK", "jWmYm7qr5nMoAUwZRjGtBxmz3KA1tkAj3ykkR6q2B2C", "wx5823bf96d3bd56c7")
	if err != nil {
		t.Fatalf("create crypt: %v", err)
	}
	const cipherText = "RypEvHKD8QQKFhvQ6QleEB4J58tiPdvo+rtK1I9qca6aM/wvqnLSV5zEPeusUiX5L5X/0lWfrf0QADHHhGd3QczcdCUpj911L3vg3W/sYYvuJTs3TUUkSUXxaccAS0qhxchrRYt66wiSpGLYL42aM6A8dTT+6k4aSknmPj48kzJs8qLjvd4Xgpue06DOdnLxAUHzM6+kDZ+HMZfJYuR+LtwGc2hgf5gsijff0ekUNXZiqATP7PF5mZxZ3Izoun1s4zG4LUMnvw2r+KqCKIw+3IQH03v+BCA9nMELNqbSf6tiWSrXJB3LAVGUcallcrw8V2t9EL4EhzJWrQUax5wLVMNS0+rUPA3k22Ncx4XXZS9o0MBH27Bo6BpNelZpS+/uh9KsNlY6bHCmJU9p8g7m3fVKn28H3KDYA5Pl/T8Z1ptDAVe0lXdQ2YoyyH2uyPIGHBZZIs2pDBS8R07+qN+E7Q=="
	plain, err := crypt.decrypt(cipherText)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	for _, want := range []string{"<MsgType><![CDATA[text]]></MsgType>", "<Content><![CDATA[hello]]></Content>", "<AgentID>218</AgentID>"} {
		if !bytes.Contains(plain, []byte(want)) {
			t.Fatalf("plaintext missing %q:\n%s", want, plain)
		}
	}

	if _, err := crypt.decrypt("not base64!"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := crypt.decrypt(base64.StdEncoding.EncodeToString([]byte("odd"))); err == nil {
		t.Fatal("expected block size error")
	}
}
