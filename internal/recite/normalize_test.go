package recite_test

import (
	"reflect"
	"testing"

	"github.com/MrWong99/hafiz/internal/recite"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"diacritics only", "ًٌٍَُِّْ", ""},
		{"harakat stripped", "قُلْ هُوَ اللَّهُ أَحَدٌ", "قل هو الله احد"},
		{"alif variants folded", "أ إ آ ٱ", "ا ا ا ا"},
		{"alif maksura to ya", "الْهُدَى", "الهدي"},
		{"tatweel stripped", "اللـــه", "الله"},
		{"superscript alif stripped", "الرَّحْمَٰنِ", "الرحمن"},
		{"surrounding whitespace trimmed", "  وَالْعَصْرِ \n", "والعصر"},
		{"inner whitespace kept", "قل   هو", "قل   هو"},
		{"latin untouched", "Al-Ikhlas", "Al-Ikhlas"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := recite.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"ًٌٍ",
		" ّ قُلْ أَعُوذُ بِرَبِّ النَّاسِ ",
		"إِذَا جَاءَ نَصْرُ اللَّهِ وَالْفَتْحُ",
		"تَبَّتْ يَدَا أَبِي لَهَبٍ وَتَبَّ",
		"mixed ٱلْحَمْدُ text",
	}
	for _, in := range inputs {
		once := recite.Normalize(in)
		if twice := recite.Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNewNormalizer_CustomSubstitutions(t *testing.T) {
	t.Parallel()

	n, err := recite.NewNormalizer(recite.WithSubstitutions(map[rune]string{'ة': "ه"}))
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	if got := n.Normalize("سُورَة"); got != "سوره" {
		t.Errorf("Normalize = %q, want %q", got, "سوره")
	}
	// Defaults still apply.
	if got := n.Normalize("أَحَد"); got != "احد" {
		t.Errorf("Normalize = %q, want %q", got, "احد")
	}
}

func TestNewNormalizer_RejectsChainedSubstitution(t *testing.T) {
	t.Parallel()

	_, err := recite.NewNormalizer(recite.WithSubstitutions(map[rune]string{'ة': "أ"}))
	if err == nil {
		t.Fatal("NewNormalizer: expected error for replacement containing a substituted rune")
	}
}

func TestNewNormalizer_StripRanges(t *testing.T) {
	t.Parallel()

	n, err := recite.NewNormalizer(recite.WithStripRanges(recite.RuneRange{Lo: '0', Hi: '9'}))
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	// Tatweel is no longer stripped, digits are.
	if got := n.Normalize("ـ112"); got != "ـ" {
		t.Errorf("Normalize = %q, want %q", got, "ـ")
	}
}

func TestWords(t *testing.T) {
	t.Parallel()

	n, _ := recite.NewNormalizer()
	got := n.Words("  قُلْ\tهُوَ   اللَّهُ\n")
	want := []string{"قل", "هو", "الله"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %q, want %q", got, want)
	}
	if got := n.Words("َُ"); len(got) != 0 {
		t.Errorf("Words of diacritics = %q, want empty", got)
	}
	if got := recite.Words("قُلْ هُوَ"); !reflect.DeepEqual(got, want[:2]) {
		t.Errorf("package Words = %q, want %q", got, want[:2])
	}
}

func TestHighlight(t *testing.T) {
	t.Parallel()

	marks := recite.Highlight("قُلْ هُوَ اللَّهُ أَحَدٌ", "قل هو")
	if len(marks) != 4 {
		t.Fatalf("Highlight: got %d marks, want 4", len(marks))
	}
	want := []bool{true, true, false, false}
	for i, m := range marks {
		if m.Recognized != want[i] {
			t.Errorf("mark %d (%s): recognized=%v, want %v", i, m.Word, m.Recognized, want[i])
		}
	}
	if marks[0].Word != "قُلْ" {
		t.Errorf("mark word = %q, want the original spelling", marks[0].Word)
	}
}
