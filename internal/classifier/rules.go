package classifier

import (
	"regexp"
	"strconv"
	"strings"
)

// defaultRules returns the ordered rule table. Order encodes the expected
// specificity hierarchy from spec.md 4.B: syntax, type, import, runtime,
// assertion, timeout, permission, resource, network. A rule earlier in
// this slice always wins over a later one that also matches, which is why
// e.g. the `type` rule's "TypeError:" pattern precedes the `runtime`
// rule's "undefined is not" pattern — both can match the same message.
func defaultRules() []rule {
	return []rule{
		{
			category: CategorySyntax,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`SyntaxError:`),
				regexp.MustCompile(`ParseError:`),
				regexp.MustCompile(`unexpected token`),
				regexp.MustCompile(`Unexpected end of (input|file)`),
			},
		},
		{
			category: CategoryType,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`TypeError:`),
				regexp.MustCompile(`type mismatch`),
				regexp.MustCompile(`cannot use .+ as .+ value`),
				regexp.MustCompile(`is not assignable to type`),
			},
		},
		{
			category: CategoryImport,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Cannot find module '([^']+)'`),
				regexp.MustCompile(`Module not found: .*'([^']+)'`),
				regexp.MustCompile(`no required module provides package ([^\s;]+)`),
				regexp.MustCompile(`ImportError: No module named '?([\w.]+)'?`),
			},
			extract: func(stderr string, _ []int, re *regexp.Regexp) string {
				m := re.FindStringSubmatch(stderr)
				if len(m) > 1 {
					return "add or correct the missing import: " + m[1]
				}
				return "check the import path"
			},
		},
		{
			category: CategoryRuntime,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`undefined is not a function`),
				regexp.MustCompile(`null is not an object`),
				regexp.MustCompile(`panic:`),
				regexp.MustCompile(`RuntimeError:`),
				regexp.MustCompile(`nil pointer dereference`),
				regexp.MustCompile(`index out of range`),
			},
		},
		{
			category: CategoryAssertion,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`AssertionError`),
				regexp.MustCompile(`Expected .+ (to equal|to be|received)`),
				regexp.MustCompile(`expect\(received\)`),
			},
		},
		{
			category: CategoryTimeout,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)timed?\s?out`),
				regexp.MustCompile(`exceeded timeout`),
				regexp.MustCompile(`context deadline exceeded`),
			},
		},
		{
			category: CategoryPermission,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`EACCES`),
				regexp.MustCompile(`permission denied`),
				regexp.MustCompile(`operation not permitted`),
			},
		},
		{
			category: CategoryResource,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`ENOMEM`),
				regexp.MustCompile(`out of memory`),
				regexp.MustCompile(`too many open files`),
				regexp.MustCompile(`EMFILE`),
			},
		},
		{
			category: CategoryNetwork,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`ECONNREFUSED`),
				regexp.MustCompile(`ETIMEDOUT`),
				regexp.MustCompile(`getaddrinfo ENOTFOUND`),
				regexp.MustCompile(`network is unreachable`),
			},
		},
	}
}

// locationPatterns recognizes the common "file:line:col" shapes a test
// runner or compiler emits, in rough order of specificity.
func locationPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`at [^\s(]+ \(([^():]+):(\d+):(\d+)\)`), // at fn (path:line:col)
		regexp.MustCompile(`([^\s():]+)\((\d+),(\d+)\)`),           // path(line,col)
		regexp.MustCompile(`([^\s:]+\.\w+):(\d+):(\d+)`),           // path:line:col
		regexp.MustCompile(`([^\s:]+\.\w+):(\d+)`),                 // path:line
	}
}

func (c *Classifier) fillLocation(ce *ClassifiedError, stderr string) {
	for _, re := range c.locationRes {
		m := re.FindStringSubmatch(stderr)
		if m == nil {
			continue
		}
		ce.File = m[1]
		if len(m) > 2 {
			ce.Line, _ = strconv.Atoi(m[2])
		}
		if len(m) > 3 {
			ce.Column, _ = strconv.Atoi(m[3])
		}
		return
	}
}

// assertionPatterns pulls Expected/Received (or Expected/Actual) pairs out
// of assertion-library output.
func assertionPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?s)Expected:?\s*(.+?)\n(?:Received|Actual):?\s*(.+?)(?:\n|$)`),
	}
}

func (c *Classifier) fillAssertion(ce *ClassifiedError, stderr string) {
	for _, re := range c.assertionRes {
		m := re.FindStringSubmatch(stderr)
		if m == nil {
			continue
		}
		ce.Expected = strings.TrimSpace(m[1])
		ce.Actual = strings.TrimSpace(m[2])
		return
	}
}

// errorStartPattern recognizes the shape of a new error block's first
// line, used by AnalyzeMultiple to partition a multi-error blob.
func errorStartPattern() *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\s*(?:[A-Z][a-zA-Z]*Error|panic|FAIL|✕|×):`)
}

// splitErrorBlocks splits stderr at lines matching startRe, keeping the
// matched line as the start of each subsequent block.
func splitErrorBlocks(stderr string, startRe *regexp.Regexp) []string {
	locs := startRe.FindAllStringIndex(stderr, -1)
	if len(locs) == 0 {
		return nil
	}
	blocks := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(stderr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, stderr[loc[0]:end])
	}
	return blocks
}

// fixStrategies maps each category to the prompt fragment appended to a
// Fixer prompt. The wording deliberately tells the model that, for
// assertion failures, the test itself may be at fault — the Verification
// Loop only ever rewrites the source file regardless (verifyCycle writes
// the Fixer's output to the task's FilePath and regenerates the test).
var fixStrategies = map[Category]string{
	CategorySyntax:     "Fix the syntax error at the indicated location. Check matching brackets, quotes, and statement terminators.",
	CategoryType:       "Fix the type error. Check the declared types of the values involved and correct the mismatched usage.",
	CategoryImport:     "Fix the missing or incorrect import. Verify the module path and that the symbol is actually exported.",
	CategoryRuntime:    "Fix the runtime error. Add a nil/undefined check or correct the faulty control flow at the indicated location.",
	CategoryAssertion:  "Fix the assertion failure. If the test's expectation is wrong, say so, but still correct the source file to match the intended behavior.",
	CategoryTimeout:    "Fix the operation that is timing out. Look for an unbounded loop, a missing await/callback, or a blocking call that never returns.",
	CategoryPermission: "Fix the permission error. The code is attempting an operation it is not allowed to perform; use an allowed path or operation instead.",
	CategoryResource:   "Fix the resource exhaustion. Release file handles/memory explicitly or reduce the working set.",
	CategoryNetwork:    "Fix the network failure. Add error handling and retries, or avoid the unreachable dependency in this context.",
	CategoryUnknown:    "Diagnose the failure from the raw output below and correct the source file.",
}
