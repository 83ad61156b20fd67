package lexer

import "testing"

func TestNextTokenBasic(t *testing.T) {
	input := `var x = 10;
if (x < 5) { print "hi"; } else { print nil; }
class A < B { init() { this.x = 1; } }
a.b[0] = super.c(1, 2);`

	tests := []struct {
		expectedType   TokenType
		expectedLexeme string
	}{
		{TokenVar, "var"},
		{TokenIdentifier, "x"},
		{TokenEqual, "="},
		{TokenNumber, "10"},
		{TokenSemicolon, ";"},
		{TokenIf, "if"},
		{TokenLeftParen, "("},
		{TokenIdentifier, "x"},
		{TokenLess, "<"},
		{TokenNumber, "5"},
		{TokenRightParen, ")"},
		{TokenLeftBrace, "{"},
		{TokenPrint, "print"},
		{TokenString, "hi"},
		{TokenSemicolon, ";"},
		{TokenRightBrace, "}"},
		{TokenElse, "else"},
		{TokenLeftBrace, "{"},
		{TokenPrint, "print"},
		{TokenNil, "nil"},
		{TokenSemicolon, ";"},
		{TokenRightBrace, "}"},
		{TokenClass, "class"},
		{TokenIdentifier, "A"},
		{TokenLess, "<"},
		{TokenIdentifier, "B"},
		{TokenLeftBrace, "{"},
		{TokenIdentifier, "init"},
		{TokenLeftParen, "("},
		{TokenRightParen, ")"},
		{TokenLeftBrace, "{"},
		{TokenThis, "this"},
		{TokenDot, "."},
		{TokenIdentifier, "x"},
		{TokenEqual, "="},
		{TokenNumber, "1"},
		{TokenSemicolon, ";"},
		{TokenRightBrace, "}"},
		{TokenRightBrace, "}"},
		{TokenIdentifier, "a"},
		{TokenDot, "."},
		{TokenIdentifier, "b"},
		{TokenLeftBracket, "["},
		{TokenNumber, "0"},
		{TokenRightBracket, "]"},
		{TokenEqual, "="},
		{TokenSuper, "super"},
		{TokenDot, "."},
		{TokenIdentifier, "c"},
		{TokenLeftParen, "("},
		{TokenNumber, "1"},
		{TokenComma, ","},
		{TokenNumber, "2"},
		{TokenRightParen, ")"},
		{TokenSemicolon, ";"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("test[%d] - wrong type. expected=%v(%q), got=%v(%q)",
				i, tt.expectedType, tt.expectedLexeme, tok.Type, tok.Lexeme)
		}
		if tok.Lexeme != tt.expectedLexeme {
			t.Fatalf("test[%d] - wrong lexeme. expected=%q, got=%q", i, tt.expectedLexeme, tok.Lexeme)
		}
	}
}

func TestNumberKinds(t *testing.T) {
	l := New("123 4.5 0.1")
	for _, want := range []string{"123", "4.5", "0.1"} {
		tok := l.NextToken()
		if tok.Type != TokenNumber || tok.Lexeme != want {
			t.Fatalf("expected number %q, got %v %q", want, tok.Type, tok.Lexeme)
		}
	}
}

func TestComment(t *testing.T) {
	l := New("1 // this is a comment\n2")
	first := l.NextToken()
	if first.Lexeme != "1" {
		t.Fatalf("expected 1, got %q", first.Lexeme)
	}
	second := l.NextToken()
	if second.Lexeme != "2" || second.Line != 2 {
		t.Fatalf("expected 2 on line 2, got %q on line %d", second.Lexeme, second.Line)
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != TokenError {
		t.Fatalf("expected error token, got %v", tok.Type)
	}
}
