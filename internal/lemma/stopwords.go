package lemma

// Russian function words: prepositions, conjunctions, particles and
// pronouns. Tokens in this set never become lemmas.
var russianStopWords = []string{
	"а", "без", "более", "бы", "был", "была", "были", "было", "быть", "в", "вам", "вас",
	"весь", "во", "вот", "все", "всего", "всех", "вы", "где", "да", "даже", "для", "до",
	"его", "ее", "ей", "ему", "если", "есть", "еще", "же", "за", "здесь", "и", "из",
	"или", "им", "их", "к", "как", "ко", "когда", "кто", "ли", "либо", "мне", "может",
	"мы", "на", "над", "надо", "наш", "не", "него", "нее", "нет", "ни", "них", "но",
	"ну", "о", "об", "однако", "он", "она", "они", "оно", "от", "очень", "по", "под",
	"при", "про", "с", "со", "так", "также", "такой", "там", "те", "тем", "то", "того",
	"тоже", "той", "только", "том", "ты", "у", "уже", "хотя", "чего", "чей", "чем",
	"что", "чтобы", "чье", "чья", "эта", "эти", "это", "я", "этот", "меня", "тебя",
	"себя", "между", "перед", "через", "после", "около", "вокруг", "против", "ведь",
	"вдруг", "зато", "причем", "пусть", "будто", "словно", "лишь", "именно", "разве",
}

func defaultStopWords() map[string]struct{} {
	set := make(map[string]struct{}, len(russianStopWords))
	for _, w := range russianStopWords {
		set[w] = struct{}{}
	}
	return set
}
