package email

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"

	"dugsi-admin/config"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends guardian notifications. A Mailer built without an SMTP host only logs.
type Mailer struct {
	dialer sender
	from   string
}

func NewMailer(cfg config.SMTP) *Mailer {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	m := &Mailer{from: from}
	if cfg.Host != "" {
		m.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	}
	return m
}

func (m *Mailer) send(to, subject, body string) error {
	if m == nil || m.dialer == nil {
		log.Printf("[EMAIL][skip] smtp not configured to=%s subject=%q", to, subject)
		return nil
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("email: empty recipient")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return errors.Wrapf(err, "sending %q to %s", subject, to)
	}
	return nil
}

// SendWithdrawalNotice tells a guardian that the listed children were withdrawn. billingNote
// describes what happened to the family's subscription; it is left out when empty.
func (m *Mailer) SendWithdrawalNotice(to, guardianName string, children []string, billingNote string) error {
	subject := "Dugsi withdrawal confirmation"
	var b strings.Builder
	fmt.Fprintf(&b, "Assalamu alaikum %s,\n\n", greetingName(guardianName))
	fmt.Fprintf(&b, "This confirms that %s %s been withdrawn from the Dugsi program.\n", listNames(children), hasHave(len(children)))
	if note := strings.TrimSpace(billingNote); note != "" {
		b.WriteString(note + "\n")
	}
	b.WriteString("\nIf this was not expected, please contact the Dugsi office.")
	body := b.String()
	if err := m.send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] withdrawal notice sent to %s children=%d", to, len(children))
	return nil
}

// SendReEnrollmentNotice tells a guardian that a child is enrolled again.
func (m *Mailer) SendReEnrollmentNotice(to, guardianName, child string) error {
	subject := "Dugsi re-enrollment confirmation"
	body := fmt.Sprintf(`Assalamu alaikum %s,

%s has been re-enrolled in the Dugsi program. Welcome back.`, greetingName(guardianName), child)
	if err := m.send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] re-enrollment notice sent to %s", to)
	return nil
}

func greetingName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "parent"
	}
	return name
}

func listNames(names []string) string {
	switch len(names) {
	case 0:
		return "your child"
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

func hasHave(n int) string {
	if n > 1 {
		return "have"
	}
	return "has"
}
