package provider

// Wire DTOs for the GoCardless Bank Account Data API. Field shapes are a
// compatibility boundary and follow the API exactly.

type tokenRequest struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
}

type tokenRefreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access         string `json:"access"`
	AccessExpires  int    `json:"access_expires"`
	Refresh        string `json:"refresh,omitempty"`
	RefreshExpires int    `json:"refresh_expires,omitempty"`
}

type institutionDTO struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Bic                   string   `json:"bic"`
	TransactionTotalDays  string   `json:"transaction_total_days"`
	MaxAccessValidForDays string   `json:"max_access_valid_for_days"`
	Countries             []string `json:"countries"`
	Logo                  string   `json:"logo"`
}

type createAgreementRequest struct {
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	AccessValidForDays int      `json:"access_valid_for_days"`
	AccessScope        []string `json:"access_scope"`
}

type agreementDTO struct {
	ID                 string   `json:"id"`
	Created            string   `json:"created"`
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	AccessValidForDays int      `json:"access_valid_for_days"`
	AccessScope        []string `json:"access_scope"`
	Accepted           string   `json:"accepted"`
}

type createRequisitionRequest struct {
	Redirect      string `json:"redirect"`
	InstitutionID string `json:"institution_id"`
	Agreement     string `json:"agreement"`
	Reference     string `json:"reference"`
}

type requisitionDTO struct {
	ID            string   `json:"id"`
	Created       string   `json:"created"`
	Redirect      string   `json:"redirect"`
	Status        string   `json:"status"`
	InstitutionID string   `json:"institution_id"`
	Agreement     string   `json:"agreement"`
	Reference     string   `json:"reference"`
	Accounts      []string `json:"accounts"`
	Link          string   `json:"link"`
}

type accountDTO struct {
	ID            string `json:"id"`
	InstitutionID string `json:"institution_id"`
	Iban          string `json:"iban"`
	Status        string `json:"status"`
	OwnerName     string `json:"owner_name"`
}

// The details, balances and transactions endpoints pass bank data through in
// Berlin Group camelCase, unlike the snake_case platform endpoints above.

type accountDetailsResponse struct {
	Account struct {
		ResourceID  string `json:"resourceId"`
		Iban        string `json:"iban"`
		Currency    string `json:"currency"`
		OwnerName   string `json:"ownerName"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Product     string `json:"product"`
	} `json:"account"`
}

type amountDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type balanceDTO struct {
	BalanceAmount amountDTO `json:"balanceAmount"`
	BalanceType   string    `json:"balanceType"`
	ReferenceDate string    `json:"referenceDate"`
}

type balancesResponse struct {
	Balances []balanceDTO `json:"balances"`
}

type transactionDTO struct {
	TransactionID                     string    `json:"transactionId"`
	BookingDate                       string    `json:"bookingDate"`
	ValueDate                         string    `json:"valueDate"`
	TransactionAmount                 amountDTO `json:"transactionAmount"`
	CreditorName                      string    `json:"creditorName"`
	DebtorName                        string    `json:"debtorName"`
	RemittanceInformationUnstructured string    `json:"remittanceInformationUnstructured"`
}

type transactionsResponse struct {
	Transactions struct {
		Booked  []transactionDTO `json:"booked"`
		Pending []transactionDTO `json:"pending"`
	} `json:"transactions"`
}
