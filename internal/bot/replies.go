package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/service"
)

const (
	textGenericFailure  = "❌ Non è stato possibile salvare l'operazione. Riprova più tardi."
	textNotForYou       = "Questo pulsante non è per te."
	textExpired         = "Questa richiesta non è più valida."
	textAlreadyCanceled = "Operazione già annullata."
	textNotFound        = "Operazione non trovata."
	textExchangeFormat  = "⚠️ Usa il <b>formato corretto</b>.\n\n" +
		"<code>/scambio @utente feedback</code>\n\n" +
		"Ricordati di allegare anche uno screenshot 📸."
	textGiftFormat = "⚠️ Usa il <b>formato corretto</b>.\n\n" +
		"<code>/regalo @utente descrizione</code>\n" +
		"oppure <code>/regalo descrizione</code> per offrire un regalo a chiunque."
)

func closeButton() Button {
	return Button{Text: "🚮 Chiudi", Data: Payload{Action: ActionClose}.Encode()}
}

func closeKeyboard() [][]Button {
	return [][]Button{{closeButton()}}
}

func userLink(id int64, handle string) string {
	if handle != "" {
		return "@" + html.EscapeString(handle)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%d</a>`, id, id)
}

func startText(firstName string) string {
	return fmt.Sprintf("Ciao, %s.\n\nQuesto messaggio conferma che il bot ti sta riconoscendo come admin.",
		html.EscapeString(firstName))
}

func thresholdText(names string, threshold int) string {
	return fmt.Sprintf("🎉 %s: hai raggiunto <b>%d</b> scambi! Il contatore riparte da zero.", names, threshold)
}

func validationText(err *model.ValidationError) string {
	switch err.Reason {
	case model.ReasonMissingEvidence:
		return "⚠️ Ricordati di allegare uno <b>screenshot</b>."
	case model.ReasonMissingCounterparty:
		return "⚠️ Indica l'<b>utente</b> con cui hai effettuato l'operazione."
	case model.ReasonMissingNote:
		return "⚠️ Aggiungi un <b>feedback</b> dopo l'utente."
	case model.ReasonSelfReference:
		return "⚠️ Non puoi registrare un'operazione con te stesso."
	case model.ReasonBotReference:
		return "⚠️ Non puoi registrare un'operazione con un bot."
	case model.ReasonInactiveCounterparty:
		return "⚠️ L'utente indicato non fa più parte del gruppo."
	case model.ReasonUnknownCounterparty:
		return "⚠️ Non trovo l'utente indicato nel gruppo."
	case model.ReasonGiftNotOpen:
		return "⚠️ Questo regalo non è più disponibile."
	default:
		return "⚠️ Richiesta non valida."
	}
}

func exchangeReceiptText(r service.ExchangeReceipt) string {
	ex := r.Exchange
	return fmt.Sprintf("✅ Scambio <b>#%d</b> registrato tra %s e %s.\n\n💬 %s",
		ex.ID,
		userLink(ex.Member1, ex.Handle1),
		userLink(ex.Member2, ex.Handle2),
		html.EscapeString(ex.Note),
	)
}

func exchangeReceiptKeyboard(r service.ExchangeReceipt) [][]Button {
	return [][]Button{{
		{Text: "↩️ Annulla", Data: Payload{Action: ActionRevert, ID: r.Exchange.ID}.Encode()},
		closeButton(),
	}}
}

func giftReceiptText(g model.Gift) string {
	var recipientID int64
	if g.RecipientID != nil {
		recipientID = *g.RecipientID
	}
	return fmt.Sprintf("🎁 Regalo <b>#%d</b> da %s a %s registrato.\n\n💬 %s",
		g.ID,
		userLink(g.GiverID, g.GiverHandle),
		userLink(recipientID, g.RecipientHandle),
		html.EscapeString(g.Note),
	)
}

func giftReceiptKeyboard(g model.Gift) [][]Button {
	return [][]Button{{
		{Text: "↩️ Annulla", Data: Payload{Action: ActionRevertGift, ID: g.ID}.Encode()},
		closeButton(),
	}}
}

func openGiftText(g model.Gift) string {
	return fmt.Sprintf("🎁 %s offre un regalo:\n\n💬 %s\n\nPremi il pulsante per accettarlo.",
		userLink(g.GiverID, g.GiverHandle),
		html.EscapeString(g.Note),
	)
}

func openGiftKeyboard(g model.Gift) [][]Button {
	return [][]Button{
		{{Text: "🙋 Accetta", Data: Payload{Action: ActionAccept, ID: g.ID}.Encode()}},
		{{Text: "↩️ Annulla", Data: Payload{Action: ActionRevertGift, ID: g.ID}.Encode()}},
	}
}

func pendingText(p model.PendingConfirmation) string {
	what := "lo scambio"
	if p.Kind == model.ConfirmGift {
		what = "il regalo"
	}
	return fmt.Sprintf("🤝 @%s, confermi %s con %s?\n\n💬 %s",
		html.EscapeString(p.Handle),
		what,
		userLink(p.InitiatorID, p.InitiatorHandle),
		html.EscapeString(p.Note),
	)
}

func pendingKeyboard(p model.PendingConfirmation) [][]Button {
	return [][]Button{
		{
			{Text: "✅ Conferma", Data: Payload{Action: ActionConfirm, ID: p.InitiatorID, Handle: p.Handle}.Encode()},
			{Text: "❌ Rifiuta", Data: Payload{Action: ActionDecline, ID: p.InitiatorID, Handle: p.Handle}.Encode()},
		},
		{
			{Text: "🚮 Chiudi", Data: Payload{Action: ActionAbort, ID: p.InitiatorID, Handle: p.Handle}.Encode()},
		},
	}
}

func duplicatePendingText(p model.PendingConfirmation) string {
	return fmt.Sprintf("⏳ C'è già una richiesta in attesa di conferma da parte di @%s.",
		html.EscapeString(p.Handle))
}

func declinedText(p model.PendingConfirmation) string {
	return fmt.Sprintf("❌ La richiesta per @%s è stata annullata.", html.EscapeString(p.Handle))
}

func exchangeRevertedText(r service.ExchangeReversal) string {
	return fmt.Sprintf("↩️ Scambio <b>#%d</b> annullato.", r.Exchange.ID)
}

func giftRevertedText(r service.GiftReversal) string {
	return fmt.Sprintf("↩️ Regalo <b>#%d</b> annullato.", r.Gift.ID)
}

func pointsText(u model.User, handle string, threshold int) string {
	return fmt.Sprintf("📊 %s ha <b>%d/%d</b> punti e <b>%d</b> scambi in totale.",
		userLink(u.ID, handle), u.Points, threshold, u.Total)
}

func exchangesText(userID int64, handle string, list []model.Exchange) string {
	if len(list) == 0 {
		return fmt.Sprintf("📭 %s non ha ancora effettuato scambi.", userLink(userID, handle))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📜 Ultimi scambi di %s:\n", userLink(userID, handle))
	for _, ex := range list {
		otherID, otherHandle := ex.Counterparty(userID)
		fmt.Fprintf(&b, "\n<b>#%d</b> con %s: %s", ex.ID, userLink(otherID, otherHandle), html.EscapeString(ex.Note))
		if ex.EvidenceLink != "" {
			fmt.Fprintf(&b, ` (<a href="%s">prova</a>)`, html.EscapeString(ex.EvidenceLink))
		}
		if ex.Cancelled {
			b.WriteString(" <i>(annullato)</i>")
		}
	}
	return b.String()
}

// exchangesKeyboard добавляет кнопки отмены для последних действующих обменов.
func exchangesKeyboard(list []model.Exchange) [][]Button {
	const maxButtons = 5

	var rows [][]Button
	for _, ex := range list {
		if ex.Cancelled {
			continue
		}
		if len(rows) == maxButtons {
			break
		}
		rows = append(rows, []Button{{
			Text: fmt.Sprintf("↩️ Annulla #%d", ex.ID),
			Data: Payload{Action: ActionRevert, ID: ex.ID}.Encode(),
		}})
	}
	return append(rows, []Button{closeButton()})
}
