package pagestore

import "fmt"

// DebugDump renders a Store's current Index Page patch table as a
// human-readable string, for failure diagnostics in test output.
func DebugDump(s *Store) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := fmt.Sprintf("tx_tree_root_txid=%d\n", s.index.TxTreeRootTxID)
	for _, pn := range s.index.sortedPatchedPages() {
		patches := s.index.PatchesByPage[pn]
		out += fmt.Sprintf("page %d: %d patch(es)\n", pn, len(patches))
		for _, p := range patches {
			out += fmt.Sprintf("  offset=%d length=%d\n", p.Offset, p.Length)
		}
	}
	return out
}
