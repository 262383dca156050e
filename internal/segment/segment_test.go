package segment

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplit_StrongDelimiterAlwaysSplits(t *testing.T) {
	t.Parallel()

	// With a huge MinChars the pieces are split at every strong delimiter
	// and then merged back into one short segment.
	cfg := Config{MinChars: 100}
	got := Split("短。短？短！", cfg)

	want := []string{"短。短？短！"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplit_WeakDelimiterRespectsMinChars(t *testing.T) {
	t.Parallel()

	cfg := Config{MinChars: 20}
	got := Split("所以，如今想要讨还回去吧，苦涩的一笑。", cfg)

	if len(got) != 1 {
		t.Fatalf("Split() returned %d segments (%q), want 1", len(got), got)
	}
	if got[0] != "所以，如今想要讨还回去吧，苦涩的一笑。" {
		t.Errorf("Split()[0] = %q", got[0])
	}
}

func TestSplit_WeakDelimiterSplitsWhenEnoughChars(t *testing.T) {
	t.Parallel()

	cfg := Config{MinChars: 10}
	got := Split("这是一段很长的文字内容，另一段也很长的内容。", cfg)

	want := []string{"这是一段很长的文字内容，", "另一段也很长的内容。"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplit_ShortSentencesMergeWithinLine(t *testing.T) {
	t.Parallel()

	cfg := Config{MinChars: 20}
	got := Split("三段？嘿嘿，果然不出我所料！", cfg)

	want := []string{"三段？嘿嘿，果然不出我所料！"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplit_NoCrossLineMerge(t *testing.T) {
	t.Parallel()

	cfg := Config{MinChars: 50}
	got := Split("第一行。\n第二行。", cfg)

	want := []string{"第一行。", "第二行。"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplit_QuoteOnlyPieceMergesIntoPrevious(t *testing.T) {
	t.Parallel()

	cfg := Config{MinChars: 10}
	got := Split("这是一段较长的内容测试。\n\"\n这是另一段较长的测试内容。", cfg)

	if len(got) != 2 {
		t.Fatalf("Split() returned %d segments (%q), want 2", len(got), got)
	}
	if !strings.HasSuffix(got[0], `"`) {
		t.Errorf("first segment %q should absorb the lone quote", got[0])
	}
}

func TestSplit_EmptyAndBlankInput(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "\n\n", "   \n\t\n"} {
		if got := Split(in, DefaultConfig()); len(got) != 0 {
			t.Errorf("Split(%q) = %q, want empty", in, got)
		}
	}
}

func TestSplit_MaxCharsForcesSplit(t *testing.T) {
	t.Parallel()

	cfg := Config{MinChars: 2, MaxChars: 10}
	got := Split(strings.Repeat("字", 25), cfg)

	if len(got) != 3 {
		t.Fatalf("Split() returned %d segments (%q), want 3", len(got), got)
	}
	total := 0
	for _, s := range got {
		total += len([]rune(s))
	}
	if total != 25 {
		t.Errorf("total runes = %d, want 25", total)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	const text = "第001章 陨落的天才\n\n\"斗之力，三段！\"\n\n望着测验魔石碑上面闪亮得甚至有些刺眼的五个大字，少年面无表情。"
	cfg := DefaultConfig()

	first := Split(text, cfg)
	for range 10 {
		if got := Split(text, cfg); !reflect.DeepEqual(got, first) {
			t.Fatalf("Split() is not deterministic: %q vs %q", got, first)
		}
	}
}

func TestSplit_PreservesContent(t *testing.T) {
	t.Parallel()

	const text = "望着测验魔石碑上面闪亮得甚至有些刺眼的五个大字，少年面无表情，唇角有着一抹自嘲。\n\"三段？嘿嘿，果然不出我所料！\""
	cfg := DefaultConfig()

	// The concatenation of all segments must equal the concatenation of the
	// trimmed non-empty input lines: splitting moves boundaries, never text.
	var wantBuf strings.Builder
	for line := range strings.Lines(text) {
		wantBuf.WriteString(strings.TrimSpace(line))
	}

	var gotBuf strings.Builder
	for _, s := range Split(text, cfg) {
		gotBuf.WriteString(s)
	}

	if gotBuf.String() != wantBuf.String() {
		t.Errorf("content changed:\n got %q\nwant %q", gotBuf.String(), wantBuf.String())
	}
}

func TestSplit_NovelSample(t *testing.T) {
	t.Parallel()

	const text = `第001章 陨落的天才

"斗之力，三段！"

望着测验魔石碑上面闪亮得甚至有些刺眼的五个大字，少年面无表情，唇角有着一抹自嘲，紧握的手掌，因为大力，而导致略微尖锐的指甲深深的刺进了掌心之中，带来一阵阵钻心的疼痛。

"三段？嘿嘿，果然不出我所料，这个"天才"这一年又是在原地踏步！"`

	got := Split(text, Config{MinChars: 20})
	if len(got) < 4 {
		t.Fatalf("Split() returned %d segments, want at least 4", len(got))
	}
	if got[0] != "第001章 陨落的天才" {
		t.Errorf("chapter heading split incorrectly: %q", got[0])
	}
}
