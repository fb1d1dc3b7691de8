package wecom

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const pkcs7BlockSize = 32

var (
	// ErrInvalidSignature 表示 msg_signature 校验失败。
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidReceiveID 表示密文中的 receiveid 与配置不符。
	ErrInvalidReceiveID = errors.New("invalid receive id")
)

// Crypt 负责企业微信回调的签名校验与 AES-256-CBC 加解密。
//
// 明文布局：random(16) | msg_len(4, big endian) | msg | receiveid
type Crypt struct {
	token     string
	key       []byte
	receiveID string
}

// NewCrypt 创建加解密上下文。
// Parameters:
//   - token: 回调配置中的 Token
//   - encodingAESKey: 43 位 EncodingAESKey
//   - receiveID: 企业 ID（智能机器人场景可为空，为空时不校验）
func NewCrypt(token, encodingAESKey, receiveID string) (*Crypt, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encoding aes key must decode to 32 bytes, got %d", len(key))
	}
	return &Crypt{token: token, key: key, receiveID: receiveID}, nil
}

// VerifyURL 校验 GET 回调签名并返回解密后的 echostr。
func (c *Crypt) VerifyURL(signature, timestamp, nonce, echostr string) (string, error) {
	if !c.verify(signature, timestamp, nonce, echostr) {
		return "", ErrInvalidSignature
	}
	plain, err := c.decrypt(echostr)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DecryptMessage 校验签名并把 POST 回调解密为 Message。
func (c *Crypt) DecryptMessage(signature, timestamp, nonce string, req EncryptedRequest) (*Message, error) {
	if !c.verify(signature, timestamp, nonce, req.Encrypt) {
		return nil, ErrInvalidSignature
	}
	plain, err := c.decrypt(req.Encrypt)
	if err != nil {
		return nil, err
	}
	return ParseMessage(plain)
}

// EncryptResponse 将回复明文序列化、加密并签名。
// timestamp/nonce 为空时自动生成。
func (c *Crypt) EncryptResponse(payload interface{}, timestamp, nonce string) (EncryptedResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EncryptedResponse{}, fmt.Errorf("marshal reply: %w", err)
	}
	encrypted, err := c.encrypt(data)
	if err != nil {
		return EncryptedResponse{}, err
	}
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}
	if nonce == "" {
		nonce = randomNonce()
	}
	return EncryptedResponse{
		Encrypt:      encrypted,
		MsgSignature: calcSignature(c.token, timestamp, nonce, encrypted),
		Timestamp:    timestamp,
		Nonce:        nonce,
	}, nil
}

func (c *Crypt) encrypt(msg []byte) (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(random)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(msg)))
	buf.Write(length[:])
	buf.Write(msg)
	buf.WriteString(c.receiveID)

	plain := pkcs7Pad(buf.Bytes(), pkcs7BlockSize)
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *Crypt) decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, data)
	plain, err = pkcs7Unpad(plain, pkcs7BlockSize)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, errors.New("plaintext too short")
	}
	content := plain[16:]
	msgLen := int(binary.BigEndian.Uint32(content[:4]))
	if msgLen < 0 || 4+msgLen > len(content) {
		return nil, errors.New("invalid message length")
	}
	msg := content[4 : 4+msgLen]
	receiveID := string(content[4+msgLen:])
	if c.receiveID != "" && receiveID != "" && receiveID != c.receiveID {
		return nil, ErrInvalidReceiveID
	}
	return msg, nil
}

// verify 以常量时间比较签名，大小写不敏感。
func (c *Crypt) verify(signature, timestamp, nonce, encrypted string) bool {
	want := calcSignature(c.token, timestamp, nonce, encrypted)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}

// calcSignature 对 token、timestamp、nonce、密文字典序排序拼接后取 SHA1。
func calcSignature(token, timestamp, nonce, encrypted string) string {
	parts := []string{token, timestamp, nonce, encrypted}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > blockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padding], nil
}

func randomNonce() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}
