package workflow

// Mermaid renders the fixed workflow topology as a Mermaid flowchart.
// The lifecycle controller persists this alongside the compiled engine as a
// best-effort artifact; absence never affects correctness.
func Mermaid() string {
	return `flowchart TD
    start([start]) --> decide
    decide -->|retrieve| retrieve
    decide -->|respond| done([done])
    retrieve --> grade
    grade -->|relevant| answer
    grade -->|irrelevant| rewrite
    rewrite --> decide
    answer --> done
`
}
