// Package parser разбирает подписи команд вида "/feedback @utente testo".
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

// Prefixes: допустимые префиксы команд.
const Prefixes = ".!/"

// MinIDDigits: минимальная длина числового идентификатора пользователя.
const MinIDDigits = 7

var (
	handleRe = regexp.MustCompile(`^@[A-Za-z0-9_]{1,32}$`)
	idRe     = regexp.MustCompile(`^[0-9]+$`)
)

// Field: поле, которого не хватает в подписи.
type Field string

const (
	FieldCounterparty Field = "counterparty"
	FieldNote         Field = "note"
)

// Caption: текст сообщения и структурированные упоминания в нём.
type Caption struct {
	Text     string
	Mentions []model.Mention
}

// Result: результат разбора: NoMatch, Incomplete или Parsed.
type Result interface {
	isResult()
}

// NoMatch означает, что текст не является командой.
type NoMatch struct{}

// Incomplete означает, что команда распознана, но не хватает поля Missing.
// Reference заполнен, если не хватает только текста; Rest содержит остаток текста.
type Incomplete struct {
	Action    string
	Missing   Field
	Reference *model.Reference
	Rest      string
}

// Parsed: полностью разобранная команда.
type Parsed struct {
	Action    string
	Reference model.Reference
	Note      string
}

func (NoMatch) isResult()    {}
func (Incomplete) isResult() {}
func (Parsed) isResult()     {}

// Parse разбирает подпись. Никогда не паникует: некорректный ввод даёт NoMatch или Incomplete.
func Parse(c Caption) Result {
	action, pos, ok := command(c.Text)
	if !ok {
		return NoMatch{}
	}

	text := c.Text
	pos = skipSpace(text, pos)
	if pos >= len(text) {
		return Incomplete{Action: action, Missing: FieldCounterparty}
	}

	ref, end, ok := reference(c, pos)
	if !ok {
		return Incomplete{
			Action:  action,
			Missing: FieldCounterparty,
			Rest:    strings.TrimSpace(text[pos:]),
		}
	}

	note := strings.TrimSpace(text[end:])
	if note == "" {
		return Incomplete{Action: action, Missing: FieldNote, Reference: &ref}
	}

	return Parsed{Action: action, Reference: ref, Note: note}
}

// Command возвращает ключевое слово команды в нижнем регистре.
func Command(text string) (string, bool) {
	action, _, ok := command(text)
	return action, ok
}

// ParseReference распознаёт отдельный токен как @username или числовой идентификатор.
func ParseReference(token string) (model.Reference, bool) {
	token = strings.TrimSpace(token)
	switch {
	case handleRe.MatchString(token):
		return model.Reference{Kind: model.RefHandle, Handle: token[1:]}, true
	case len(token) >= MinIDDigits && idRe.MatchString(token):
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return model.Reference{}, false
		}
		return model.Reference{Kind: model.RefID, ID: id}, true
	}
	return model.Reference{}, false
}

func command(text string) (string, int, bool) {
	start := skipSpace(text, 0)
	if start >= len(text) || !strings.ContainsRune(Prefixes, rune(text[start])) {
		return "", 0, false
	}

	end := tokenEnd(text, start+1)
	keyword := text[start+1 : end]
	if i := strings.IndexByte(keyword, '@'); i >= 0 {
		keyword = keyword[:i]
	}
	if keyword == "" || strings.IndexFunc(keyword, notWordRune) >= 0 {
		return "", 0, false
	}

	return strings.ToLower(keyword), end, true
}

func reference(c Caption, pos int) (model.Reference, int, bool) {
	for _, m := range c.Mentions {
		if m.Offset == pos && m.Length > 0 && pos+m.Length <= len(c.Text) && m.UserID != 0 {
			return model.Reference{Kind: model.RefMention, ID: m.UserID}, pos + m.Length, true
		}
	}

	end := tokenEnd(c.Text, pos)
	ref, ok := ParseReference(c.Text[pos:end])
	if !ok {
		return model.Reference{}, 0, false
	}
	return ref, end, true
}

func skipSpace(text string, pos int) int {
	if pos >= len(text) {
		return len(text)
	}
	i := strings.IndexFunc(text[pos:], func(r rune) bool { return !unicode.IsSpace(r) })
	if i < 0 {
		return len(text)
	}
	return pos + i
}

func tokenEnd(text string, pos int) int {
	if pos >= len(text) {
		return len(text)
	}
	i := strings.IndexFunc(text[pos:], unicode.IsSpace)
	if i < 0 {
		return len(text)
	}
	return pos + i
}

func notWordRune(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}
