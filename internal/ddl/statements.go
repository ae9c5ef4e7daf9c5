package ddl

import (
	"regexp"
	"strings"
)

// SplitStatements splits a script on top-level semicolons. Quoted text,
// dollar-quoted bodies and comments are respected so drivers never see
// multi-statements. Comments are dropped.
func SplitStatements(sqlText string) []string {
	var (
		out          []string
		current      strings.Builder
		inSingle     bool
		inDouble     bool
		lineComment  bool
		blockComment int
		dollarTag    string
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	s := sqlText
	for i := 0; i < len(s); i++ {
		c := s[i]
		next := byte(0)
		if i+1 < len(s) {
			next = s[i+1]
		}
		switch {
		case lineComment:
			if c == '\n' {
				lineComment = false
				current.WriteByte('\n')
			}
			continue
		case blockComment > 0:
			switch {
			case c == '/' && next == '*':
				blockComment++
				i++
			case c == '*' && next == '/':
				blockComment--
				i++
				if blockComment == 0 {
					current.WriteByte(' ')
				}
			}
			continue
		case dollarTag != "":
			if strings.HasPrefix(s[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		default:
			switch c {
			case '-':
				if next == '-' {
					lineComment = true
					i++
					continue
				}
			case '/':
				if next == '*' {
					blockComment = 1
					i++
					continue
				}
			case '\'':
				inSingle = true
			case '"':
				inDouble = true
			case '$':
				if i == 0 || !isIdentByte(s[i-1]) {
					if tag := dollarQuote.FindString(s[i:]); tag != "" {
						dollarTag = tag
						current.WriteString(tag)
						i += len(tag) - 1
						continue
					}
				}
			case ';':
				flush()
				continue
			}
		}
		current.WriteByte(c)
	}
	flush()
	return out
}

var dollarQuote = regexp.MustCompile(`^\$(?:[A-Za-z_][A-Za-z0-9_]*)?\$`)

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// IsTransactionControl reports whether stmt opens or closes a transaction.
func IsTransactionControl(stmt string) bool {
	switch strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))) {
	case "BEGIN", "BEGIN TRANSACTION", "START TRANSACTION", "COMMIT", "COMMIT TRANSACTION", "END":
		return true
	}
	return false
}

var (
	createTableRe = regexp.MustCompile(`(?i)^CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(?:(?:"[^"]+"|\w+)\.)?("[^"]+"|\w+)`)
	dropTableRe   = regexp.MustCompile(`(?i)^DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?(?:(?:"[^"]+"|\w+)\.)?("[^"]+"|\w+)`)
)

// CreatedTables lists the tables a script creates and not later drops, in
// order of creation. Schema qualifiers are stripped and names are folded the
// way postgres folds them: quoted names keep their case, bare ones are
// lower-cased.
func CreatedTables(sqlText string) []string {
	var out []string
	for _, stmt := range SplitStatements(sqlText) {
		if m := createTableRe.FindStringSubmatch(stmt); m != nil {
			name := foldIdent(m[1])
			if !contains(out, name) {
				out = append(out, name)
			}
			continue
		}
		if m := dropTableRe.FindStringSubmatch(stmt); m != nil {
			out = remove(out, foldIdent(m[1]))
		}
	}
	return out
}

func foldIdent(name string) string {
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return strings.ToLower(name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
