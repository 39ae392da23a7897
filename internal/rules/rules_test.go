package rules

import (
	"strings"
	"testing"

	"github.com/example/realtime-docstore/internal/db"
)

func compileOK(t *testing.T, source string) *Matcher {
	t.Helper()
	matcher, ruleErr := Compile(source)
	if ruleErr != nil {
		t.Fatalf("compile failed: %v", ruleErr)
	}
	return matcher
}

func TestCompilePermissiveAllowsEverything(t *testing.T) {
	matcher := compileOK(t, Permissive)
	session := db.NewSession("s1")

	for _, op := range []db.Operation{db.OpRead, db.OpWrite, db.OpList} {
		if !matcher.HasPermission([]string{"users", "alice"}, op, session) {
			t.Fatalf("expected %s allowed", op)
		}
		if !matcher.HasPermission([]string{"a", "b", "c", "d"}, op, session) {
			t.Fatalf("expected %s allowed on deep path", op)
		}
	}
}

func TestCompileMissingServiceReported(t *testing.T) {
	_, ruleErr := Compile(`service other {
   match /* {
      allow read: if true;
   }
}`)
	if ruleErr == nil {
		t.Fatal("expected error for missing service")
	}
	if !strings.Contains(ruleErr.Message, "no docstore service") {
		t.Fatalf("unexpected message %q", ruleErr.Message)
	}
}

func TestCompileEmptyServiceDeniesEverything(t *testing.T) {
	matcher := compileOK(t, "service docstore {}")
	session := db.NewSession("s1")
	if matcher.HasPermission([]string{"users"}, db.OpRead, session) {
		t.Fatal("expected read denied with no rules")
	}
}

func TestOperationsAreIndependent(t *testing.T) {
	matcher := compileOK(t, `service docstore {
   match /* {
      allow read: if true;
   }
}`)
	session := db.NewSession("s1")

	if !matcher.HasPermission([]string{"users"}, db.OpRead, session) {
		t.Fatal("expected read allowed")
	}
	if matcher.HasPermission([]string{"users"}, db.OpWrite, session) {
		t.Fatal("expected write denied")
	}
	if matcher.HasPermission([]string{"users"}, db.OpList, session) {
		t.Fatal("expected list denied")
	}
}

func TestPathVariableBindsIntoCondition(t *testing.T) {
	matcher := compileOK(t, `service docstore {
   match /users/{userId} {
      allow read, write: if request.uid == userId;
   }
}`)

	alice := db.NewSession("s1")
	alice.UID = "alice"

	if !matcher.HasPermission([]string{"users", "alice"}, db.OpRead, alice) {
		t.Fatal("expected owner read allowed")
	}
	if !matcher.HasPermission([]string{"users", "alice"}, db.OpWrite, alice) {
		t.Fatal("expected owner write allowed")
	}
	if matcher.HasPermission([]string{"users", "bob"}, db.OpRead, alice) {
		t.Fatal("expected foreign document denied")
	}

	anonymous := db.NewSession("s2")
	if matcher.HasPermission([]string{"users", "alice"}, db.OpRead, anonymous) {
		t.Fatal("expected anonymous denied")
	}
}

func TestNestedMatchBlocks(t *testing.T) {
	matcher := compileOK(t, `service docstore {
   match /users/{userId} {
      allow read: if true;
      match /private {
         allow read: if request.uid == userId;
      }
   }
}`)

	alice := db.NewSession("s1")
	alice.UID = "alice"

	if !matcher.HasPermission([]string{"users", "bob"}, db.OpRead, alice) {
		t.Fatal("expected top level read allowed")
	}
	if !matcher.HasPermission([]string{"users", "alice", "private"}, db.OpRead, alice) {
		t.Fatal("expected own private read allowed")
	}
	if matcher.HasPermission([]string{"users", "bob", "private"}, db.OpRead, alice) {
		t.Fatal("expected foreign private read denied")
	}
	// Depth not covered by any match is denied.
	if matcher.HasPermission([]string{"users", "bob", "other"}, db.OpRead, alice) {
		t.Fatal("expected unmatched subpath denied")
	}
}

func TestWildcardCoversRemainingDepth(t *testing.T) {
	matcher := compileOK(t, `service docstore {
   match /public/* {
      allow read: if true;
   }
}`)
	session := db.NewSession("s1")

	if !matcher.HasPermission([]string{"public"}, db.OpRead, session) {
		t.Fatal("expected wildcard root allowed")
	}
	if !matcher.HasPermission([]string{"public", "a", "b", "c"}, db.OpRead, session) {
		t.Fatal("expected deep path allowed")
	}
	if matcher.HasPermission([]string{"private"}, db.OpRead, session) {
		t.Fatal("expected other tree denied")
	}
}

func TestConditionOperators(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		want      bool
	}{
		{"true literal", "true", true},
		{"false literal", "false", false},
		{"number equality", "1 == 1", true},
		{"number inequality", "1 != 2", true},
		{"less", "1 < 2", true},
		{"greater fails", "1 > 2", false},
		{"string equality", `"a" == "a"`, true},
		{"string mismatch", `"a" == "b"`, false},
		{"and", "true && false", false},
		{"or", "false || true", true},
		{"parenthesized", "(1 == 1) && (2 <= 2)", true},
		{"null comparison", "null == null", true},
		{"uid against null", "request.uid == null", true},
	}

	session := db.NewSession("s1")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matcher := compileOK(t, `service docstore {
   match /x {
      allow read: if `+tc.condition+`;
   }
}`)
			got := matcher.HasPermission([]string{"x"}, db.OpRead, session)
			if got != tc.want {
				t.Fatalf("condition %q: got %v, want %v", tc.condition, got, tc.want)
			}
		})
	}
}

func TestRootBypassesRules(t *testing.T) {
	matcher := compileOK(t, "service docstore {}")
	root := db.NewSession("root")
	root.Root = true
	if !matcher.HasPermission([]string{"anything"}, db.OpWrite, root) {
		t.Fatal("expected root bypass")
	}
}

func TestCompileErrorPositions(t *testing.T) {
	cases := []struct {
		name   string
		source string
		line   int
		column int
	}{
		{"unexpected character", "service docstore {\n  @\n}", 2, 3},
		{"missing semicolon", "service docstore {\n  match /x {\n    allow read: if true\n  }\n}", 4, 3},
		{"wildcard not final", "service docstore {\n  match /*/sub {\n    allow read: if true;\n  }\n}", 2, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ruleErr := Compile(tc.source)
			if ruleErr == nil {
				t.Fatal("expected compile error")
			}
			if ruleErr.Line != tc.line || ruleErr.Column != tc.column {
				t.Fatalf("expected position %d:%d, got %d:%d (%s)", tc.line, tc.column, ruleErr.Line, ruleErr.Column, ruleErr.Message)
			}
		})
	}
}

func TestTokenizerSkipsCommentsAndStrings(t *testing.T) {
	tokens, err := tokenize(`// line comment
# hash comment
service docstore "text" 42`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	want := []TokenType{tokenKeyword, tokenText, tokenString, tokenNumber}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %#v", len(want), len(tokens), tokens)
	}
	for i, typ := range want {
		if tokens[i].Type != typ {
			t.Fatalf("token %d: expected %s, got %s", i, typ, tokens[i].Type)
		}
	}
	if tokens[2].Value != `"text"` {
		t.Fatalf("unexpected string token %q", tokens[2].Value)
	}
}

func TestMultipleServicesSelectsOurs(t *testing.T) {
	matcher := compileOK(t, `service other {
   match /* {
      allow read: if false;
   }
}
service docstore {
   match /* {
      allow read: if true;
   }
}`)
	session := db.NewSession("s1")
	if !matcher.HasPermission([]string{"x"}, db.OpRead, session) {
		t.Fatal("expected rules from the docstore service")
	}
}
