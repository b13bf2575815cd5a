/*
paychannel.go - Bank-transfer destination resolution

PURPOSE:
  Determines where a candidate's pay should be sent. PAYE candidates are
  paid into their own account; UMBRELLA candidates are paid through their
  linked umbrella company's account. This is a pure function: callers
  fetch the candidate and umbrella records first.

MISSING DATA:
  Rather than failing, missing fields are reported in Missing. An
  unresolved channel (OK=false) propagates to PAY_CHANNEL_MISSING and
  blocks promotion to READY_FOR_INVOICE.
*/
package engine

// BankDetails is the raw account data carried by a candidate or umbrella.
type BankDetails struct {
	AccountHolder string
	BankName      string
	SortCode      string
	AccountNumber string
}

// PayChannel is the resolved transfer destination.
type PayChannel struct {
	AccountHolder string
	BankName      string
	SortCode      string
	AccountNumber string
	OK            bool
	Missing       []string
}

// ResolvePayChannel resolves the destination for the given pay method.
// hasUmbrella reports whether the candidate carries an umbrella link;
// umbrella is only read when it does.
func ResolvePayChannel(method PayMethod, candidate BankDetails, hasUmbrella bool, umbrella BankDetails) PayChannel {
	switch method {
	case PayMethodPAYE:
		ch := PayChannel{
			AccountHolder: candidate.AccountHolder,
			BankName:      candidate.BankName,
			SortCode:      candidate.SortCode,
			AccountNumber: candidate.AccountNumber,
		}
		if candidate.SortCode == "" {
			ch.Missing = append(ch.Missing, "sort_code")
		}
		if candidate.AccountNumber == "" {
			ch.Missing = append(ch.Missing, "account_number")
		}
		ch.OK = len(ch.Missing) == 0
		return ch

	case PayMethodUmbrella:
		if !hasUmbrella {
			return PayChannel{Missing: []string{"umbrella"}}
		}
		ch := PayChannel{
			AccountHolder: umbrella.AccountHolder,
			BankName:      umbrella.BankName,
			SortCode:      umbrella.SortCode,
			AccountNumber: umbrella.AccountNumber,
		}
		if umbrella.SortCode == "" {
			ch.Missing = append(ch.Missing, "umbrella_sort_code")
		}
		if umbrella.AccountNumber == "" {
			ch.Missing = append(ch.Missing, "umbrella_account_number")
		}
		ch.OK = len(ch.Missing) == 0
		return ch
	}

	return PayChannel{Missing: []string{"pay_method"}}
}
