package mailer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"section-swap/backend/config"
)

// Message 待发送的邮件，正文为 Markdown
type Message struct {
	To       string
	ToName   string
	Subject  string
	Markdown string
}

// Mailer SMTP 邮件发送器
type Mailer struct {
	client   *mail.Client
	from     string
	fromName string
	md       goldmark.Markdown
	logger   *zap.Logger
}

// New 根据配置创建 Mailer
func New(cfg *config.MailConfig, logger *zap.Logger) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 SMTP 客户端失败: %w", err)
	}

	logger.Info("邮件发送已启用", zap.String("smtp_host", cfg.SMTPHost), zap.Int("smtp_port", cfg.SMTPPort))
	return &Mailer{
		client:   client,
		from:     cfg.From,
		fromName: cfg.FromName,
		md:       newMarkdown(),
		logger:   logger,
	}, nil
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
}

// Send 渲染 Markdown 正文并发送，HTML 与纯文本双版本
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	body, err := render(m.md, msg.Markdown)
	if err != nil {
		return fmt.Errorf("渲染邮件正文失败: %w", err)
	}

	mm := mail.NewMsg()
	if err := mm.FromFormat(m.fromName, m.from); err != nil {
		return fmt.Errorf("发件人地址不合法: %w", err)
	}
	if err := mm.AddToFormat(msg.ToName, msg.To); err != nil {
		return fmt.Errorf("收件人地址不合法: %w", err)
	}
	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextHTML, body)
	mm.AddAlternativeString(mail.TypeTextPlain, msg.Markdown)

	if err := m.client.DialAndSendWithContext(ctx, mm); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// RenderHTML 将 Markdown 渲染为 HTML 邮件正文
func RenderHTML(markdown string) (string, error) {
	return render(newMarkdown(), markdown)
}

func render(md goldmark.Markdown, markdown string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`<div style="font-family:Arial,sans-serif;line-height:1.5;color:#222">`)
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	buf.WriteString(`</div>`)
	return buf.String(), nil
}
