package planner

// VariableTable resolves $(variable) tokens for RemappedInlineFile
// directives (spec §4.5). Known tokens include GAME_PATH, DOCUMENTS,
// LOCAL_APPDATA, INSTALL_PATH, and whatever else the run configuration
// supplies; unknown tokens are left verbatim by the executor, which warns
// once per token (spec §4.5).
type VariableTable map[string]string

// NewVariableTable builds the table from the well-known install-time paths.
// Per spec §9's Open Question, token matching is case-sensitive by default.
func NewVariableTable(gamePath, documents, localAppData, installPath string) VariableTable {
	return VariableTable{
		"GAME_PATH":     gamePath,
		"DOCUMENTS":     documents,
		"LOCAL_APPDATA": localAppData,
		"INSTALL_PATH":  installPath,
	}
}

// Lookup returns the value for name and whether it was known.
func (t VariableTable) Lookup(name string) (string, bool) {
	v, ok := t[name]
	return v, ok
}
