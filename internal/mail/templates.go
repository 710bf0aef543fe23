package mail

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const (
	templatePasswordReset = "password_reset"
	templateWelcome       = "welcome"
)

type templateData struct {
	Shop          string
	Name          string
	Code          string
	ExpiryMinutes int
	Year          int
}

type emailTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

func (t emailTemplate) render(data templateData) (string, string, error) {
	var html, text strings.Builder
	if err := t.html.Execute(&html, data); err != nil {
		return "", "", err
	}
	if err := t.text.Execute(&text, data); err != nil {
		return "", "", err
	}
	return html.String(), text.String(), nil
}

var templates = map[string]emailTemplate{
	templatePasswordReset: {
		subject: "Password Reset - {{shop}}",
		html: htmltemplate.Must(htmltemplate.New("reset_html").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px;">
    <h2 style="color: #2196F3;">{{.Shop}}</h2>
    <p>Hello {{.Name}},</p>
    <p>You requested a password reset for your {{.Shop}} account.</p>
    <p>Your verification code is:</p>
    <p style="font-size: 24px; font-weight: bold; letter-spacing: 4px;">{{.Code}}</p>
    <p>This code will expire in {{.ExpiryMinutes}} minutes.</p>
    <p>If you did not request a password reset, please ignore this email.</p>
    <p style="font-size: 12px; color: #777;">&copy; {{.Year}} {{.Shop}}. All rights reserved.</p>
  </div>
</body>
</html>`)),
		text: texttemplate.Must(texttemplate.New("reset_text").Parse(`Password Reset - {{.Shop}}

Hello {{.Name}},

You requested a password reset for your {{.Shop}} account.

Your verification code is: {{.Code}}

This code will expire in {{.ExpiryMinutes}} minutes.

If you did not request a password reset, please ignore this email.

(c) {{.Year}} {{.Shop}}. All rights reserved.
`)),
	},
	templateWelcome: {
		subject: "Welcome to {{shop}}!",
		html: htmltemplate.Must(htmltemplate.New("welcome_html").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px;">
    <h2 style="color: #2196F3;">{{.Shop}}</h2>
    <h3>Welcome to {{.Shop}}!</h3>
    <p>Hello {{.Name}},</p>
    <p>Thank you for registering with {{.Shop}}! Your account has been successfully created.</p>
    <p>You can now browse human and animal medications, place orders and book farm visits.</p>
    <p>Best regards,<br>The {{.Shop}} Team</p>
    <p style="font-size: 12px; color: #777;">&copy; {{.Year}} {{.Shop}}. All rights reserved.</p>
  </div>
</body>
</html>`)),
		text: texttemplate.Must(texttemplate.New("welcome_text").Parse(`Welcome to {{.Shop}}!

Hello {{.Name}},

Thank you for registering with {{.Shop}}! Your account has been successfully created.

You can now browse human and animal medications, place orders and book farm visits.

Best regards,
The {{.Shop}} Team

(c) {{.Year}} {{.Shop}}. All rights reserved.
`)),
	},
}

func subjectFor(t emailTemplate, shop string) string {
	return strings.ReplaceAll(t.subject, "{{shop}}", shop)
}
