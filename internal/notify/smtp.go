package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// 組み込みのSMSゲートウェイ
var defaultGateways = map[string]string{
	"sprint":   "pm.sprint.com",
	"at&t":     "mms.att.net",
	"t-mobile": "tmomail.net",
	"verizon":  "vtext.com",
}

// gatewaysWith は組み込みの対応に上書き分を重ねたマップを返す
func gatewaysWith(overrides map[string]string) map[string]string {
	gw := make(map[string]string, len(defaultGateways)+len(overrides))
	for k, v := range defaultGateways {
		gw[k] = v
	}
	for k, v := range overrides {
		gw[strings.ToLower(k)] = v
	}
	return gw
}

// resolveAddress は通知先をメールアドレスへ解決する
// '@' を含む通知先はそのままアドレスとして扱う
func resolveAddress(recipient string, recipients map[string]Recipient, gateways map[string]string) (string, error) {
	if strings.Contains(recipient, "@") {
		return recipient, nil
	}

	r, ok := recipients[recipient]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient)
	}
	if r.Email != "" {
		return r.Email, nil
	}
	if r.Number == "" {
		return "", fmt.Errorf("%w: %s に番号がありません", ErrUnknownRecipient, recipient)
	}

	domain, ok := gateways[strings.ToLower(r.Carrier)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCarrier, r.Carrier)
	}
	return r.Number + "@" + domain, nil
}

// SMTP はメールでメッセージを送る Notifier
// 宛先がSMSゲートウェイならテキストメッセージとして届く
type SMTP struct {
	cfg      SMTPConfig
	gateways map[string]string
	timeout  time.Duration

	// deliver はエンベロープとメッセージ本体を送る。テストで差し替える
	deliver func(ctx context.Context, from, to string, msg []byte) error
}

// NewSMTP は SMTP を作成する
func NewSMTP(cfg SMTPConfig, timeout time.Duration) *SMTP {
	s := &SMTP{
		cfg:      cfg,
		gateways: gatewaysWith(cfg.Gateways),
		timeout:  timeout,
	}
	s.deliver = s.dial
	return s
}

func (s *SMTP) Send(ctx context.Context, recipient, message string) error {
	to, err := resolveAddress(recipient, s.cfg.Recipients, s.gateways)
	if err != nil {
		return err
	}

	from := s.from()
	msg := s.compose(recipient, to, message, time.Now())
	if err := s.deliver(ctx, from, to, msg); err != nil {
		return fmt.Errorf("メール送信に失敗 (%s): %w", to, err)
	}
	return nil
}

func (s *SMTP) from() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.Username
}

// compose はヘッダー付きのメッセージ本体を組み立てる
func (s *SMTP) compose(name, to, message string, now time.Time) []byte {
	subject := s.cfg.Subject
	if subject == "" {
		subject = "Banken Alert"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: Banken <%s>\r\n", s.from())
	fmt.Fprintf(&b, "To: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", name), to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// dial はSMTPサーバーへ接続して1通送る
// 送信ごとに接続するので、切断後の再接続を別に扱う必要はない
func (s *SMTP) dial(ctx context.Context, from, to string, msg []byte) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("接続に失敗: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("SMTPセッションの開始に失敗: %w", err)
	}
	defer c.Close()

	if s.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLSに失敗: %w", err)
			}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("認証に失敗: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
