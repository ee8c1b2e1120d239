package telegram

import (
	"strings"

	"voiture-alert/internal/domain"
)

// Лимит Telegram на размер одного сообщения.
const messageLimit = 4096

// FormatAlert собирает текст уведомления о новом объявлении.
func FormatAlert(n domain.Notification) string {
	lines := []string{"🚗 Nouvelle annonce trouvée !", "", "📰 " + n.Title}
	if n.Body != "" {
		lines = append(lines, "", n.Body)
	}
	if n.URL != "" {
		lines = append(lines, "", "👉 Voir l'annonce : "+n.URL)
	}
	lines = append(lines, "", "— Envoyé par *Voiture Alert*")
	return truncate(strings.Join(lines, "\n"))
}

// FormatTest собирает текст проверочного сообщения.
func FormatTest() string {
	return strings.Join([]string{
		"🔔 *Test Voiture Alert*",
		"",
		"Si tu lis ce message, c'est que ta connexion Telegram fonctionne parfaitement ✅",
		"",
		"Tu recevras ici les annonces qui correspondent à tes filtres.",
	}, "\n")
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= messageLimit {
		return text
	}
	const ellipsis = "…"
	return string(runes[:messageLimit-1]) + ellipsis
}
