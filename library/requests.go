package library

import (
	"strconv"
	"strings"
)

// Wire protocol tokens.
const (
	Delimiter      = ","
	Terminator     = ";"
	PartialRequest = "partial-request"
)

// splitFields breaks a command body on delimiters. Commas inside braces or
// double quotes, and commas followed by a space, do not split. Quotes are
// removed from quoted fields.
func splitFields(body string) []string {
	var (
		fields []string
		cur    strings.Builder
		depth  int
		quoted bool
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '"':
			quoted = !quoted
			continue
		case quoted:
		case c == '{':
			depth++
		case c == '}' && depth > 0:
			depth--
		case c == ',' && depth == 0 && (i+1 >= len(body) || body[i+1] != ' '):
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(fields, strings.TrimSpace(cur.String()))
}

// parseList reads a brace-delimited list such as {a,b}. Braces are optional.
// A wildcard or empty list yields nil.
func parseList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	if ignored(strings.TrimSpace(s)) {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseIDs flattens every argument into a list of short IDs.
func parseIDs(args []string) ([]int, error) {
	var ids []int
	var bad []string
	for _, a := range args {
		for _, item := range parseList(a) {
			n, err := strconv.Atoi(item)
			if err != nil || n < 0 {
				bad = append(bad, item)
				continue
			}
			ids = append(ids, n)
		}
	}
	if len(bad) > 0 {
		return nil, ErrInvalidBookID.With(formatList(bad))
	}
	if len(ids) == 0 {
		return nil, ErrMissingParameters
	}
	return ids, nil
}

// response is a successful reply before the client ID and keyword are added.
type response struct {
	fields []string
	lines  []string
}

func reply(fields ...string) response { return response{fields: fields} }

func render(clientID, keyword string, fields []string, lines []string) string {
	var b strings.Builder
	if clientID != "" {
		b.WriteString(clientID)
		b.WriteString(Delimiter)
	}
	b.WriteString(keyword)
	for _, f := range fields {
		b.WriteString(Delimiter)
		b.WriteString(f)
	}
	for _, l := range lines {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	b.WriteString(Terminator)
	return b.String()
}

// authLevel is what a session needs before a command runs.
type authLevel int

const (
	authNone authLevel = iota
	authLogin
	authStaff
)

// command describes one keyword of the protocol.
type command struct {
	auth      authLevel
	min, max  int // parameter counts; max < 0 is unbounded
	fields    int // reply fields a recordable success carries; 0 is any
	usage     string
	exclusive bool // runs with every other command held off
	run       func(d *Dispatcher, s *Session, args []string) (response, *historyEntry, error)
}

func (c command) accepts(n int) bool { return n >= c.min && (c.max < 0 || n <= c.max) }

// records reports whether a successful reply is complete enough to enter history.
func (c command) records(r response) bool { return c.fields == 0 || len(r.fields) == c.fields }

var commands = map[string]command{
	"disconnect": {auth: authNone, usage: "", run: (*Dispatcher).disconnect},
	"create":     {auth: authNone, min: 3, max: 4, usage: "username,password,role[,visitor ID]", run: (*Dispatcher).create},
	"login":      {auth: authNone, min: 2, max: 2, usage: "username,password", run: (*Dispatcher).login},
	"logout":     {auth: authLogin, run: (*Dispatcher).logout},
	"register":   {auth: authStaff, min: 4, max: 4, usage: "first name,last name,address,phone-number", run: (*Dispatcher).register},
	"arrive":     {auth: authLogin, max: 1, usage: "visitor ID", run: (*Dispatcher).arrive},
	"depart":     {auth: authLogin, max: 1, fields: 3, usage: "visitor ID", run: (*Dispatcher).depart},
	"search":     {auth: authNone, min: 2, max: 5, usage: "title,{authors},[isbn,[publisher,[sort order]]]", run: (*Dispatcher).search},
	"borrow":     {auth: authLogin, min: 1, max: -1, usage: "visitor ID,{id}", run: (*Dispatcher).borrow},
	"borrowed":   {auth: authLogin, max: 1, usage: "visitor ID", run: (*Dispatcher).borrowed},
	"return":     {auth: authLogin, min: 1, max: -1, usage: "visitor ID,id[,ids]", run: (*Dispatcher).returnBooks},
	"pay":        {auth: authLogin, min: 1, max: 2, usage: "visitor ID,amount", run: (*Dispatcher).pay},
	"fines":      {auth: authLogin, max: 1, usage: "visitor ID", run: (*Dispatcher).fines},
	"store":      {auth: authStaff, min: 2, max: 5, usage: "title,{authors},[isbn,[publisher,[sort order]]]", run: (*Dispatcher).storeSearch},
	"buy":        {auth: authStaff, min: 2, max: -1, usage: "quantity,id[,ids]", run: (*Dispatcher).buy},
	"datetime":   {auth: authNone, run: (*Dispatcher).datetime},
	"advance":    {auth: authStaff, min: 1, max: 2, usage: "number-of-days[,number-of-hours]", exclusive: true, run: (*Dispatcher).advance},
	"report":     {auth: authStaff, run: (*Dispatcher).report},
	"undo":       {auth: authLogin, run: (*Dispatcher).undo},
	"redo":       {auth: authLogin, run: (*Dispatcher).redo},
}
