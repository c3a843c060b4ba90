package scanner

import (
	"context"

	"github.com/kylelemons/godebug/pretty"

	"github.com/dirscan/scanner/entry"
)

// DebugDump pretty-prints the current Entry set, gated by Options.DebugDump
// (off by default). It is a diagnostic aid, not part of the scan result
// contract - see SPEC_FULL.md "Supplemented features".
func (s *Scanner) DebugDump(ctx context.Context, entries map[string]*entry.Entry) {
	if !s.Options.DebugDump {
		return
	}

	log(ctx).Infof("entry set:\n%s", pretty.Sprint(entries))
}
