// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"fmt"
	"regexp"
)

// Anomaly is one entry of the SPID error table. The identity provider reports
// the code as an "ErrorCode nrN" token inside the SAML status message.
//
// Ref: https://docs.italia.it/italia/spid/spid-regole-tecniche/it/stabile/messaggi-errore.html
type Anomaly struct {
	// Code is the stable integer identifier defined by the SPID rules.
	Code int

	// Description explains the anomaly to an operator. Always set.
	Description string

	// Message is the user-facing text. Empty for codes that are never
	// shown to an end user; use UserMessage for a safe default.
	Message string

	// Troubleshoot suggests what the user can do about it. May be empty.
	Troubleshoot string
}

// anomalies is populated at process start and never mutated afterwards.
var anomalies = map[int]Anomaly{
	1: {Code: 1, Description: "Autenticazione corretta"},

	// Anomalie del sistema
	2: {Code: 2, Description: "Indisponibilità sistema"},
	3: {Code: 3, Description: "Errore di sistema"},

	// Anomalie delle richieste
	4: {Code: 4, Description: "Formato binding non corretto"},
	5: {Code: 5, Description: "Verifica della firma fallita"},
	6: {Code: 6, Description: "Binding su metodo HTTP errato"},
	7: {Code: 7, Description: "Errore sulla verifica della firma della richiesta"},
	8: {Code: 8, Description: "Formato della richiesta non conforme alle specifiche SAML"},
	9: {Code: 9, Description: "Parametro version non presente, malformato o diverso da 2.0"},
	10: {Code: 10, Description: "Issuer non presente, malformato o non corrispondete " +
		"all'entità che sottoscrive la richiesta"},
	11: {Code: 11, Description: "ID non presente, malformato o non conforme"},
	12: {Code: 12, Description: "RequestAuthnContext non presente, malformato o non previsto da SPID"},
	13: {Code: 13, Description: "IssueInstant non presente, malformato o non coerente con l'orario di arrivo della richiesta"},
	14: {Code: 14, Description: "Destination non presente, malformata o non coincidente " +
		"con il Gestore delle identità ricevente la richiesta"},
	15: {Code: 15, Description: "Attributo IsPassive presente e attualizzato al valore true"},
	16: {Code: 16, Description: "AssertionConsumerService non correttamente valorizzato"},
	17: {Code: 17, Description: "Attributo Format dell'elemento NameIDPolicy assente o " +
		"non valorizzato secondo specifica"},
	18: {Code: 18, Description: "AttributeConsumerServiceIndex malformato o che riferisce " +
		"a un valore non registrato nei metadati di SP"},

	// Anomalie derivanti dall'utente
	19: {
		Code: 19,
		Description: "Autenticazione fallita per ripetuta sottomissione di credenziali errate - " +
			"superato numero tentativi secondo le policy adottate",
		Message:      "Autenticazione fallita per ripetuta sottomissione di credenziali errate",
		Troubleshoot: "Inserire credenziali corrette",
	},
	20: {
		Code: 20,
		Description: "Utente privo di credenziali compatibili con il livello " +
			"richiesto dal fornitore del servizio",
		Message: "Utente privo di credenziali compatibili con " +
			"il livello di autenticazione richiesto",
		Troubleshoot: "Acquisire credenziali di livello idoneo all'accesso al servizio",
	},
	21: {
		Code:        21,
		Description: "Timeout durante l'autenticazione utente",
		Message:     "Timeout durante l'autenticazione utente",
		Troubleshoot: "Si ricorda che l'operazione di autenticazione deve " +
			"essere completata entro un determinato periodo di tempo",
	},
	22: {
		Code:         22,
		Description:  "Utente nega il consenso all'invio di dati al SP in caso di sessione vigente",
		Message:      "L'utente nega il consenso all'invio di dati al fornitore del servizio",
		Troubleshoot: "È necessario dare il consenso per poter accedere al servizio",
	},
	23: {
		Code:        23,
		Description: "Utente con identità sospesa/revocata o con credenziali bloccate",
		Message:     "Utente con identità sospesa/revocata o con credenziali bloccate",
	},
	25: {
		Code:        25,
		Description: "Processo di autenticazione annullato dall'utente",
		Message:     "Processo di autenticazione annullato dall'utente",
	},
	30: {
		Code:        30,
		Description: "L'identità digitale utilizzata non è di tipo professionale",
		Message:     "L'identità digitale utilizzata non è un'identità digitale del tipo atteso",
		Troubleshoot: "È necessario eseguire l'autenticazione con le credenziali " +
			"del corretto tipo di identità digitale richiesto",
	},
}

var errorCodeRegexp = regexp.MustCompile(`ErrorCode nr(\d+)`)

// LookupAnomaly returns the anomaly registered for code.
func LookupAnomaly(code int) (Anomaly, bool) {
	a, ok := anomalies[code]
	return a, ok
}

// FromStatusMessage extracts the "ErrorCode nrN" token from a provider status
// message and resolves it against the anomaly table. It never fabricates an
// entry: an absent or unknown code yields ok == false.
func FromStatusMessage(statusMessage string) (Anomaly, bool) {
	match := errorCodeRegexp.FindStringSubmatch(statusMessage)
	if match == nil {
		return Anomaly{}, false
	}

	var code int
	fmt.Sscanf(match[1], "%d", &code)
	return LookupAnomaly(code)
}

// StatusMessage renders the token form of the code, as an identity provider
// would embed it in a SAML status message.
func (a Anomaly) StatusMessage() string {
	return fmt.Sprintf("ErrorCode nr%d", a.Code)
}

// UserMessage returns the user-facing text, falling back to a generic denial
// for codes that carry none.
func (a Anomaly) UserMessage() string {
	if a.Message == "" {
		return "Accesso negato"
	}
	return a.Message
}

func (a Anomaly) Error() string {
	if a.Message == "" {
		return a.StatusMessage()
	}
	if a.Troubleshoot == "" {
		return a.Message
	}
	return fmt.Sprintf("%s\n\n%s", a.Message, a.Troubleshoot)
}
