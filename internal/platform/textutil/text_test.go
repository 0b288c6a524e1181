package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestPlainTextStripsMarkup(t *testing.T) {
	got := PlainText("  <b>Blue</b>   <script>alert(1)</script>Mug \n")
	if got != "Blue Mug" {
		t.Fatalf("expected sanitised text, got %q", got)
	}
}

func TestPlainTextKeepsPunctuation(t *testing.T) {
	if got := PlainText(`Tom's "best" mug & saucer`); got != `Tom's "best" mug & saucer` {
		t.Fatalf("expected punctuation preserved, got %q", got)
	}
}

func TestPlainTextComposesNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	if got := PlainText(decomposed); got != "Caf\u00e9" {
		t.Fatalf("expected composed form, got %q", got)
	}
}

func TestRichTextKeepsSafeMarkup(t *testing.T) {
	got := RichText(`<p onclick="x()">Hand <em>made</em></p><script>bad()</script>`)
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") {
		t.Fatalf("expected unsafe markup removed, got %q", got)
	}
	if !strings.Contains(got, "<em>made</em>") {
		t.Fatalf("expected emphasis kept, got %q", got)
	}
}

func TestKeywordsFoldAndDeduplicate(t *testing.T) {
	got := Keywords([]string{" Kitchen ", "KITCHEN", "", "ÜBER", "<i>Gift</i>"})
	want := []string{"kitchen", "über", "gift"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if Keywords([]string{" ", ""}) != nil {
		t.Fatalf("expected nil for blank input")
	}
}
