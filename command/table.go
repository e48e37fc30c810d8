package command

import "openenterprise/iobridge/strbuf"

// Handler is the common signature every command handler shares (spec §9:
// "Handlers share a common signature"). src is the full received line
// (including the matched command token, so handlers can positionally
// re-parse their own arguments); dst is the send buffer the handler must
// populate.
type Handler func(src []byte, dst *strbuf.Buf) Action

// Entry is one command-table record: (short_name, long_name, handler,
// help_text). The table is a flat slice, no vtable or inheritance (spec
// §9 "Raw function-pointer tables").
type Entry struct {
	Short   string
	Long    string
	Handler Handler
	Help    string
}

// Table is the ordered set of command entries scanned by Engine.Dispatch.
type Table []Entry

// Find returns the first entry whose Short or Long name exactly matches
// tok, and whether one was found.
func (t Table) Find(tok string) (Entry, bool) {
	for _, e := range t {
		if e.Short == tok || e.Long == tok {
			return e, true
		}
	}
	return Entry{}, false
}
