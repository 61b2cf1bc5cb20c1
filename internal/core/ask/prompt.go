package ask

import (
	"strings"

	"github.com/soluris/lexrag/internal/core/generation"
)

// DefaultHistoryTurns は生成に渡す直近の会話ターン数
const DefaultHistoryTurns = 8

const groundedPrompt = `Tu es Soluris, un assistant juridique IA spécialisé en droit suisse.

CONTEXTE JURIDIQUE FOURNI :
{context}

RÈGLES STRICTES :
1. Base tes réponses PRIORITAIREMENT sur le contexte juridique fourni ci-dessus
2. Cite TOUJOURS les articles de loi et arrêts exacts entre parenthèses (art. X CO, ATF X XX XX)
3. Pour chaque affirmation juridique, indique la source précise du contexte
4. Si le contexte ne couvre pas la question, tu peux compléter avec tes connaissances mais SIGNALE-LE clairement : "⚠️ Cette information provient de mes connaissances générales et n'est pas vérifiée dans les sources disponibles."
5. Tu ne donnes JAMAIS de conseil juridique personnel : tu fournis de l'information juridique
6. Tu réponds en français, sauf si l'utilisateur écrit dans une autre langue
7. Structure tes réponses clairement avec les références entre parenthèses

FORMAT DES SOURCES :
À la fin de ta réponse, ajoute un bloc JSON avec les sources EFFECTIVEMENT utilisées :
[SOURCES]
[{"reference": "Art. 41 CO", "title": "Responsabilité délictuelle", "url": "https://www.fedlex.admin.ch/..."}]
[/SOURCES]`

// KnowledgeOnlyPrompt は文脈なしで回答させる場合の指示
const KnowledgeOnlyPrompt = `Tu es Soluris, un assistant juridique IA spécialisé en droit suisse.

⚠️ ATTENTION : La base de données juridique n'est pas disponible pour cette requête.
Les réponses sont basées sur tes connaissances générales du droit suisse.
Toutes les informations fournies doivent être vérifiées par l'utilisateur.

RÈGLES STRICTES :
1. Tu réponds UNIQUEMENT sur la base du droit suisse (fédéral et cantonal)
2. Tu cites les références que tu connais de mémoire (articles de loi, ATF)
3. Tu indiques CLAIREMENT que ces sources n'ont pas été vérifiées dans la base
4. Tu ne donnes JAMAIS de conseil juridique personnel
5. Tu réponds en français, sauf si l'utilisateur écrit dans une autre langue

FORMAT DES SOURCES :
[SOURCES]
[{"reference": "...", "title": "...", "url": "...", "verified": false}]
[/SOURCES]`

// GroundedPrompt は文脈ブロックを埋め込んだ指示を返す
func GroundedPrompt(context string) string {
	return strings.Replace(groundedPrompt, "{context}", context, 1)
}

// buildMessages は直近 maxTurns の user/assistant ターンと質問から会話を組み立てる。
// 先頭の assistant ターンは捨て、最後のターンが同じ質問なら重ねて追加しない。
func buildMessages(history []Turn, question string, maxTurns int) []generation.Message {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	msgs := make([]generation.Message, 0, len(history)+1)
	for _, t := range history {
		if t.Role != generation.RoleUser && t.Role != generation.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		if len(msgs) == 0 && t.Role == generation.RoleAssistant {
			continue
		}
		msgs = append(msgs, generation.Message{Role: t.Role, Text: t.Text})
	}

	if n := len(msgs); n == 0 || msgs[n-1].Role != generation.RoleUser || msgs[n-1].Text != question {
		msgs = append(msgs, generation.Message{Role: generation.RoleUser, Text: question})
	}
	return msgs
}
