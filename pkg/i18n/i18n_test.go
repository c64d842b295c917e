package i18n

import "testing"

func TestGetInFallsBackToKey(t *testing.T) {
	if got := GetIn(LangEN, "NoSuchKey"); got != "NoSuchKey" {
		t.Fatalf("got %q", got)
	}
	if GetIn(LangZH, "PlanBadSide") == GetIn(LangEN, "PlanBadSide") {
		t.Fatal("zh and en catalogues should differ")
	}
}

func TestParseLanguage(t *testing.T) {
	if ParseLanguage("zh-TW,zh;q=0.9") != LangZH {
		t.Fatal("zh-TW should map to zh")
	}
	if ParseLanguage("en-US") != LangEN {
		t.Fatal("en-US should map to en")
	}
	SetLanguage(LangZH)
	defer SetLanguage(LangEN)
	if ParseLanguage("") != LangZH {
		t.Fatal("empty tag should use the current language")
	}
}
