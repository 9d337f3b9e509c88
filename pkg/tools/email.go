package tools

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/luoluoluo22/ai-assistant/internal/config"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

const (
	defaultEmailLimit = 10
	defaultFolder     = "INBOX"
	imapTimeout       = 30 * time.Second
)

// EmailTool reads and sends mail for the configured provider accounts.
// Listing, folder enumeration and deletion go over IMAP; sending goes
// over SMTP with STARTTLS. Failures come back as {status: error} data
// for the model to observe.
type EmailTool struct {
	mu       sync.Mutex
	accounts map[string]config.EmailAccount
	current  string
}

// NewEmailTool creates the email tool from config. The default account
// type is used until the model switches to another one.
func NewEmailTool(cfg config.EmailConfig) *EmailTool {
	current := cfg.DefaultType
	if current == "" {
		current = "qq"
	}
	accounts := cfg.Accounts
	if accounts == nil {
		accounts = map[string]config.EmailAccount{}
	}
	return &EmailTool{accounts: accounts, current: current}
}

// Definition returns the email tool definition.
func (e *EmailTool) Definition() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "email",
		Description: "Read, send and manage email across the configured mailbox accounts.",
		Parameters: []toolregistry.Parameter{
			{Name: "action", Type: "string", Description: "Email action to perform", Required: true,
				Enum: []string{"list_emails", "send_email", "list_folders", "delete_email", "switch_email_type"}},
			{Name: "email_type", Type: "string", Description: "Mailbox provider to use",
				Enum: []string{"qq", "gmail", "outlook"}},
			{Name: "folder", Type: "string", Description: "Mail folder, default INBOX"},
			{Name: "limit", Type: "number", Description: "Maximum emails to list, default 10"},
			{Name: "message_id", Type: "string", Description: "Message ID (for delete_email)"},
			{Name: "to", Type: "string", Description: "Recipient address (for send_email)"},
			{Name: "subject", Type: "string", Description: "Subject line (for send_email)"},
			{Name: "body", Type: "string", Description: "Message body (for send_email)"},
		},
		Timeout: 90 * time.Second,
		Handler: e.handle,
	}
}

func (e *EmailTool) handle(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	action, _ := params["action"].(string)
	emailType, _ := params["email_type"].(string)

	if action == "switch_email_type" {
		if emailType == "" {
			return emailError("email_type is required for switch_email_type"), nil
		}
		return e.switchType(emailType), nil
	}

	account, err := e.resolveAccount(emailType)
	if err != nil {
		return emailError(err.Error()), nil
	}

	switch action {
	case "list_emails":
		folder, _ := params["folder"].(string)
		if folder == "" {
			folder = defaultFolder
		}
		return e.listEmails(account, folder, intParam(params, "limit", defaultEmailLimit)), nil
	case "send_email":
		to, _ := params["to"].(string)
		subject, _ := params["subject"].(string)
		body, _ := params["body"].(string)
		if to == "" || subject == "" {
			return emailError("to and subject are required for send_email"), nil
		}
		return e.sendEmail(account, to, subject, body), nil
	case "list_folders":
		return e.listFolders(account), nil
	case "delete_email":
		folder, _ := params["folder"].(string)
		if folder == "" {
			folder = defaultFolder
		}
		messageID, _ := params["message_id"].(string)
		if messageID == "" {
			return emailError("message_id is required for delete_email"), nil
		}
		return e.deleteEmail(account, folder, messageID), nil
	default:
		return emailError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// resolveAccount picks the account for a request. An explicit email_type
// overrides the current one without switching it.
func (e *EmailTool) resolveAccount(emailType string) (config.EmailAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if emailType == "" {
		emailType = e.current
	}
	account, ok := e.accounts[emailType]
	if !ok {
		return config.EmailAccount{}, fmt.Errorf("unsupported email type: %s", emailType)
	}
	if err := validateAccount(emailType, account); err != nil {
		return config.EmailAccount{}, err
	}
	return account, nil
}

func (e *EmailTool) switchType(emailType string) map[string]interface{} {
	e.mu.Lock()
	account, ok := e.accounts[emailType]
	e.mu.Unlock()

	if !ok {
		return emailError(fmt.Sprintf("unsupported email type: %s", emailType))
	}
	if err := validateAccount(emailType, account); err != nil {
		return emailError(err.Error())
	}

	// Verify the credentials actually work before committing
	c, err := dialIMAP(account)
	if err != nil {
		return emailError(fmt.Sprintf("failed to switch mailbox: %v", err))
	}
	_ = c.Logout()

	e.mu.Lock()
	e.current = emailType
	e.mu.Unlock()

	return map[string]interface{}{
		"status":        "success",
		"message":       fmt.Sprintf("switched to %s mailbox", emailType),
		"current_email": account.User,
	}
}

func (e *EmailTool) listEmails(account config.EmailAccount, folder string, limit int) map[string]interface{} {
	c, err := dialIMAP(account)
	if err != nil {
		return emailError(fmt.Sprintf("failed to connect to mailbox: %v", err))
	}
	defer func() { _ = c.Logout() }()

	mbox, err := c.Select(folder, true)
	if err != nil {
		return emailError(fmt.Sprintf("failed to open folder %s: %v", folder, err))
	}

	if mbox.Messages == 0 {
		return map[string]interface{}{
			"status":  "success",
			"message": "no emails found",
			"emails":  []interface{}{},
		}
	}

	from := uint32(1)
	if mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}

	seq := new(imap.SeqSet)
	seq.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seq, items, messages)
	}()

	emails := []interface{}{}
	for msg := range messages {
		entry, err := summarizeMessage(msg, section)
		if err != nil {
			log.Debug().Uint32("seq", msg.SeqNum).Err(err).Msg("Failed to parse message")
			continue
		}
		emails = append(emails, entry)
	}

	if err := <-done; err != nil {
		return emailError(fmt.Sprintf("failed to fetch emails: %v", err))
	}

	// Newest first
	for i, j := 0, len(emails)-1; i < j; i, j = i+1, j-1 {
		emails[i], emails[j] = emails[j], emails[i]
	}

	return map[string]interface{}{"status": "success", "emails": emails}
}

func (e *EmailTool) sendEmail(account config.EmailAccount, to, subject, body string) map[string]interface{} {
	msg := BuildMIMEMessage(account.User, to, subject, body)
	addr := fmt.Sprintf("%s:%d", account.SMTPServer, account.SMTPPort)
	auth := smtp.PlainAuth("", account.User, account.Password, account.SMTPServer)

	if err := smtp.SendMail(addr, auth, account.User, []string{to}, msg); err != nil {
		log.Error().Str("to", to).Err(err).Msg("Failed to send email")
		return emailError(fmt.Sprintf("failed to send email: %v", err))
	}

	return map[string]interface{}{"status": "success", "message": "email sent"}
}

func (e *EmailTool) listFolders(account config.EmailAccount) map[string]interface{} {
	c, err := dialIMAP(account)
	if err != nil {
		return emailError(fmt.Sprintf("failed to connect to mailbox: %v", err))
	}
	defer func() { _ = c.Logout() }()

	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	folders := []string{}
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}

	if err := <-done; err != nil {
		return emailError(fmt.Sprintf("failed to list folders: %v", err))
	}

	return map[string]interface{}{"status": "success", "folders": folders}
}

func (e *EmailTool) deleteEmail(account config.EmailAccount, folder, messageID string) map[string]interface{} {
	seqNum, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return emailError(fmt.Sprintf("invalid message_id: %s", messageID))
	}

	c, err := dialIMAP(account)
	if err != nil {
		return emailError(fmt.Sprintf("failed to connect to mailbox: %v", err))
	}
	defer func() { _ = c.Logout() }()

	if _, err := c.Select(folder, false); err != nil {
		return emailError(fmt.Sprintf("failed to open folder %s: %v", folder, err))
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uint32(seqNum))

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seq, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return emailError(fmt.Sprintf("failed to mark email deleted: %v", err))
	}
	if err := c.Expunge(nil); err != nil {
		return emailError(fmt.Sprintf("failed to expunge mailbox: %v", err))
	}

	return map[string]interface{}{"status": "success", "message": "email deleted"}
}

func dialIMAP(account config.EmailAccount) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPServer, account.IMAPPort)
	// Some providers (notably QQ) present certificates that fail strict
	// verification; mirror the permissive handshake the mailbox clients use.
	c, err := client.DialTLS(addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return nil, err
	}
	c.Timeout = imapTimeout

	if err := c.Login(account.User, account.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login rejected: %w", err)
	}
	return c, nil
}

func validateAccount(emailType string, account config.EmailAccount) error {
	missing := []string{}
	if account.IMAPServer == "" {
		missing = append(missing, "imap_server")
	}
	if account.IMAPPort == 0 {
		missing = append(missing, "imap_port")
	}
	if account.SMTPServer == "" {
		missing = append(missing, "smtp_server")
	}
	if account.SMTPPort == 0 {
		missing = append(missing, "smtp_port")
	}
	if account.User == "" {
		missing = append(missing, "user")
	}
	if account.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("mailbox %s is not fully configured: missing %s", emailType, strings.Join(missing, ", "))
	}
	return nil
}

func summarizeMessage(msg *imap.Message, section *imap.BodySectionName) (map[string]interface{}, error) {
	entry := map[string]interface{}{
		"message_id": strconv.FormatUint(uint64(msg.SeqNum), 10),
		"subject":    "(no subject)",
		"from":       "(no sender)",
		"date":       "(no date)",
		"body":       "(no content)",
	}

	if msg.Envelope != nil {
		if subject := DecodeHeader(msg.Envelope.Subject); subject != "" {
			entry["subject"] = subject
		}
		if len(msg.Envelope.From) > 0 {
			entry["from"] = msg.Envelope.From[0].Address()
		}
		if !msg.Envelope.Date.IsZero() {
			entry["date"] = msg.Envelope.Date.Format("2006-01-02 15:04:05")
		}
	}

	raw := msg.GetBody(section)
	if raw == nil {
		return entry, nil
	}

	parsed, err := mail.ReadMessage(raw)
	if err != nil {
		return entry, err
	}

	body, err := ExtractPlainText(parsed)
	if err == nil && body != "" {
		entry["body"] = body
	}

	return entry, nil
}

// emailError builds the error result shape the model is prompted to
// recognize.
func emailError(message string) map[string]interface{} {
	return map[string]interface{}{"status": "error", "message": message}
}

// BuildMIMEMessage assembles a plain-text RFC 5322 message.
func BuildMIMEMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// DecodeHeader decodes RFC 2047 encoded-words, including the Chinese
// charsets mail providers in the wild still emit.
func DecodeHeader(value string) string {
	if value == "" {
		return ""
	}
	decoder := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	case "gb18030":
		return transform.NewReader(input, simplifiedchinese.GB18030.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unhandled charset: %s", charset)
	}
}

// ExtractPlainText pulls the first text/plain part out of a message,
// handling multipart bodies and the usual transfer encodings.
func ExtractPlainText(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		return readTextBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), "")
	}

	mediaType, mtParams, err := mime.ParseMediaType(contentType)
	if err != nil {
		return readTextBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), "")
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := mtParams["boundary"]
		if boundary == "" {
			return "", fmt.Errorf("multipart message without boundary")
		}
		reader := multipart.NewReader(msg.Body, boundary)
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			partType, partParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if partType == "text/plain" {
				return readTextBody(part, part.Header.Get("Content-Transfer-Encoding"), partParams["charset"])
			}
		}
	}

	return readTextBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), mtParams["charset"])
}

func readTextBody(r io.Reader, transferEncoding, charset string) (string, error) {
	switch strings.ToLower(transferEncoding) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	if decoded, err := charsetReader(charset, r); err == nil {
		r = decoded
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
