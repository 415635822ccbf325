package feedback

import "fmt"

type messages struct {
	feedbackUnconfigured string
	feedbackFailed       string
	answerUnconfigured   string
	answerFailed         string
}

var localized = map[string]messages{
	"en": {
		feedbackUnconfigured: "Great effort on memorizing! Keep up the wonderful work. (Unable to load quiz right now)",
		feedbackFailed:       "Amazing job on your recitation! You're doing wonderfully! (Quiz is unavailable at the moment)",
		answerUnconfigured:   "I'm sorry, I can't answer right now. Please check your API key or try again later.",
		answerFailed:         "Oops! I had a little trouble thinking of an answer. Maybe ask an adult or try again?",
	},
	"fr": {
		feedbackUnconfigured: "Bravo pour tes efforts de mémorisation ! Continue ce magnifique travail. (Le quiz ne peut pas être chargé pour le moment)",
		feedbackFailed:       "Superbe récitation ! Tu te débrouilles à merveille ! (Le quiz est indisponible pour le moment)",
		answerUnconfigured:   "Désolé, je ne peux pas répondre pour l'instant. Vérifie la clé API ou réessaie plus tard.",
		answerFailed:         "Oups ! J'ai eu un peu de mal à trouver une réponse. Demande à un adulte ou réessaie ?",
	},
	"ar": {
		feedbackUnconfigured: "مجهود رائع في الحفظ! واصل عملك الجميل. (تعذر تحميل الاختبار الآن)",
		feedbackFailed:       "أحسنت في تلاوتك! أنت تقوم بعمل رائع! (الاختبار غير متاح حاليًا)",
		answerUnconfigured:   "عذرًا، لا أستطيع الإجابة الآن. يرجى التحقق من مفتاح API أو المحاولة لاحقًا.",
		answerFailed:         "عفوًا! واجهت صعوبة صغيرة في التفكير في إجابة. اسأل شخصًا بالغًا أو حاول مرة أخرى؟",
	},
}

func messagesFor(lang string) messages {
	if m, ok := localized[lang]; ok {
		return m
	}
	return localized["en"]
}

// LanguageName maps a language code to the name used in prompts.
func LanguageName(lang string) string {
	switch lang {
	case "fr":
		return "French"
	case "ar":
		return "Arabic"
	default:
		return "English"
	}
}

func feedbackPrompt(collectionName, lang string) string {
	return fmt.Sprintf(`You are a friendly and encouraging Islamic teacher for young children (around 5-10 years old).
A child has just tried to memorize Surah %[1]s.
Write your entire response in %[2]s.
1. A short, very positive message that praises the child's effort in memorizing the Quran.
2. One very simple multiple-choice question about a key theme, word or basic meaning of Surah %[1]s, with exactly 3 options (A, B, C) and the letter of the correct one.

Reply with JSON only, in this shape:
{
  "encouragement": "...",
  "quiz": {
    "question": "...",
    "options": ["...", "...", "..."],
    "answer": "A"
  }
}

Example for Surah Al-Ikhlas in English:
{
  "encouragement": "Masha'Allah! You did so well trying to memorize Surah Al-Ikhlas! Allah loves it when you learn His words!",
  "quiz": {
    "question": "Surah Al-Ikhlas tells us that Allah is...?",
    "options": ["One", "Many", "A storybook"],
    "answer": "A"
  }
}`, collectionName, LanguageName(lang))
}

func answerPrompt(topic, question, lang string) string {
	return fmt.Sprintf(`You are a friendly Islamic teacher for kids (ages 5-10).
Answer this question about %s in a very simple, short and easy-to-understand way.
Write your answer in %s.
The question is: %q.
Be clear and gentle.`, topic, LanguageName(lang), question)
}
