package services

import (
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// Template keys besides the per-reminder-kind ones.
const (
	TemplateCreated      = "created"
	TemplateRescheduled  = "rescheduled"
	TemplateCancelled    = "cancelled"
	TemplateReminderDay  = "reminder_day"
	TemplateReminderTime = "reminder_time"
)

const (
	emptyLabel = "—"
	emptyName  = "гость"
)

// DefaultTemplates are the stock message texts (Telegram HTML parse mode).
// Placeholders: {name} {service} {staff} {price} {date} {time} {old_date} {old_time}.
func DefaultTemplates() map[string]string {
	return map[string]string{
		TemplateCreated: "Здравствуйте, {name}! 🌸\n\n" +
			"Вы записаны на <b>{service}</b>.\n" +
			"📅 Дата: {date}\n" +
			"🕒 Время: {time}\n" +
			"👩‍🎨 Мастер: {staff}\n" +
			"💰 Стоимость: {price}",
		TemplateRescheduled: "{name}, ваша запись на <b>{service}</b> перенесена.\n" +
			"Было: {old_date}, {old_time}\n" +
			"Стало: <b>{date}, {time}</b>\n" +
			"👩‍🎨 Мастер: {staff}",
		TemplateCancelled: "⚠️ {name}, ваша запись на {service} ({date}, {time}) отменена.\n" +
			"Если хотите перенести, просто напишите нам 💬",
		TemplateReminderDay: "🔔 Напоминаем: {date} в {time} вас ждёт <b>{service}</b>.\n" +
			"👩‍🎨 Мастер: {staff}",
		TemplateReminderTime: "⏰ Уже сегодня в {time}: <b>{service}</b>. До встречи!",
		"lead_3d": "🔔 {name}, через 3 дня, {date} в {time}, вас ждёт <b>{service}</b>.\n" +
			"👩‍🎨 Мастер: {staff}",
		"lead_1d": "🔔 {name}, напоминаем о записи завтра, {date} в {time}: <b>{service}</b>.\n" +
			"👩‍🎨 Мастер: {staff}",
		"lead_2h": "⏰ {name}, ждём вас сегодня в {time} на <b>{service}</b>. До встречи!",
	}
}

// templateFile is the on-disk shape of TEMPLATES_PATH.
type templateFile struct {
	Templates map[string]string `yaml:"templates"`
}

// LoadTemplateFile reads template overrides from a YAML file of the form
//
//	templates:
//	  created: "..."
//	  lead_2h: "..."
func LoadTemplateFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f templateFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return f.Templates, nil
}

// Message carries the values substituted into a template.
type Message struct {
	Name    string
	Service string
	Staff   string
	Price   string
	At      *time.Time
	OldAt   *time.Time
}

// MessageFromSnapshot builds the template values of an appointment.
func MessageFromSnapshot(s *domain.AppointmentSnapshot) Message {
	return Message{
		Name:    s.ClientName,
		Service: s.ServiceLabel,
		Staff:   s.StaffLabel,
		Price:   s.PriceLabel,
		At:      s.ScheduledAt,
	}
}

// Renderer selects a template by kind and fills it in. Times are shown in
// Location.
type Renderer struct {
	Location  *time.Location
	templates map[string]string
}

// NewRenderer returns a renderer over DefaultTemplates with overrides applied.
// Empty override values are ignored.
func NewRenderer(loc *time.Location, overrides map[string]string) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	t := DefaultTemplates()
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			t[k] = v
		}
	}
	return &Renderer{
		Location:  loc,
		templates: t,
	}
}

// Render fills the template registered under kind. An unknown kind yields "".
func (r *Renderer) Render(kind string, m Message) string {
	tpl, ok := r.templates[kind]
	if !ok {
		return ""
	}
	return r.fill(tpl, m)
}

// RenderReminder renders the reminder for lead. Without a kind-specific
// template it falls back to the day-scale or time-only generic one.
func (r *Renderer) RenderReminder(lead domain.Lead, m Message) string {
	if tpl, ok := r.templates[string(lead.Kind)]; ok {
		return r.fill(tpl, m)
	}
	if lead.DayScale() {
		return r.fill(r.templates[TemplateReminderDay], m)
	}
	return r.fill(r.templates[TemplateReminderTime], m)
}

func (r *Renderer) fill(tpl string, m Message) string {
	date, clock := r.when(m.At)
	oldDate, oldClock := r.when(m.OldAt)
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = emptyName
	}
	staff := strings.TrimSpace(m.Staff)
	if staff != "" {
		// A Caser is stateful; one per call.
		staff = cases.Title(language.Russian).String(staff)
	}
	return strings.NewReplacer(
		"{name}", html.EscapeString(name),
		"{service}", label(m.Service),
		"{staff}", label(staff),
		"{price}", price(m.Price),
		"{date}", date,
		"{time}", clock,
		"{old_date}", oldDate,
		"{old_time}", oldClock,
	).Replace(tpl)
}

var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

func (r *Renderer) when(t *time.Time) (date, clock string) {
	if t == nil || t.IsZero() {
		return emptyLabel, emptyLabel
	}
	lt := t.In(r.Location)
	return fmt.Sprintf("%d %s", lt.Day(), monthsGenitive[lt.Month()-1]), lt.Format("15:04")
}

func label(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return emptyLabel
	}
	return html.EscapeString(s)
}

// price appends the currency sign to bare numbers.
func price(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return emptyLabel
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s + " ₽"
	}
	return html.EscapeString(s)
}
