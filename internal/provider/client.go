package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TomSB1423/networth/internal/events"
)

const (
	requestTimeout = 15 * time.Second
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond

	// Fallback when a 429 response carries no Retry-After header.
	defaultRetryAfter = 60 * time.Second
)

// Client is the HTTP implementation of Provider against the GoCardless Bank
// Account Data API. Every request carries a bearer token from the token
// manager; transient failures are retried with capped exponential backoff.
type Client struct {
	tokens     *TokenManager
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a provider client. requestsPerSecond bounds the outbound
// call rate to stay under the aggregator's quota.
func NewClient(baseURL string, tokens *TokenManager, requestsPerSecond float64, logger *zap.Logger) *Client {
	return &Client{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     logger.Named("provider_client"),
	}
}

func (c *Client) ListInstitutions(ctx context.Context, country string) ([]Institution, error) {
	var dtos []institutionDTO
	path := "/institutions/?country=" + url.QueryEscape(country)
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	institutions := make([]Institution, 0, len(dtos))
	for _, dto := range dtos {
		institutions = append(institutions, c.mapInstitution(dto))
	}
	return institutions, nil
}

func (c *Client) GetInstitution(ctx context.Context, institutionID string) (Institution, error) {
	var dto institutionDTO
	if err := c.do(ctx, http.MethodGet, "/institutions/"+url.PathEscape(institutionID)+"/", nil, &dto); err != nil {
		return Institution{}, err
	}
	return c.mapInstitution(dto), nil
}

func (c *Client) CreateAgreement(ctx context.Context, institutionID string, scopes []string, maxHistoricalDays, accessValidForDays int) (Agreement, error) {
	request := createAgreementRequest{
		InstitutionID:      institutionID,
		MaxHistoricalDays:  maxHistoricalDays,
		AccessValidForDays: accessValidForDays,
		AccessScope:        scopes,
	}

	var dto agreementDTO
	if err := c.do(ctx, http.MethodPost, "/agreements/enduser/", request, &dto); err != nil {
		return Agreement{}, err
	}

	return Agreement{
		ID:                 dto.ID,
		InstitutionID:      dto.InstitutionID,
		AccessScope:        dto.AccessScope,
		MaxHistoricalDays:  dto.MaxHistoricalDays,
		AccessValidForDays: dto.AccessValidForDays,
		Created:            parseTime(dto.Created),
	}, nil
}

func (c *Client) CreateRequisition(ctx context.Context, agreementID, institutionID, redirectURL, reference string) (Requisition, error) {
	request := createRequisitionRequest{
		Redirect:      redirectURL,
		InstitutionID: institutionID,
		Agreement:     agreementID,
		Reference:     reference,
	}

	var dto requisitionDTO
	if err := c.do(ctx, http.MethodPost, "/requisitions/", request, &dto); err != nil {
		return Requisition{}, err
	}
	return mapRequisition(dto), nil
}

func (c *Client) GetRequisition(ctx context.Context, requisitionID string) (Requisition, error) {
	var dto requisitionDTO
	if err := c.do(ctx, http.MethodGet, "/requisitions/"+url.PathEscape(requisitionID)+"/", nil, &dto); err != nil {
		return Requisition{}, err
	}
	return mapRequisition(dto), nil
}

// GetAccount merges the account metadata and detail endpoints into a single
// account view.
func (c *Client) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var base accountDTO
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/", nil, &base); err != nil {
		return Account{}, err
	}

	account := Account{
		ID:            base.ID,
		InstitutionID: base.InstitutionID,
		Iban:          base.Iban,
		OwnerName:     base.OwnerName,
	}

	var details accountDetailsResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/details/", nil, &details); err != nil {
		// Details are optional at some institutions; the base metadata is
		// still usable without them.
		c.logger.Warn("Account details not available",
			zap.String("account_id", accountID),
			zap.Error(err))
		return account, nil
	}

	account.Currency = details.Account.Currency
	account.Product = details.Account.Product
	account.Name = details.Account.Name
	if account.Name == "" {
		account.Name = details.Account.DisplayName
	}
	if details.Account.Iban != "" {
		account.Iban = details.Account.Iban
	}
	if details.Account.OwnerName != "" {
		account.OwnerName = details.Account.OwnerName
	}

	return account, nil
}

func (c *Client) GetAccountBalances(ctx context.Context, accountID string) ([]Balance, error) {
	var response balancesResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/balances/", nil, &response); err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(response.Balances))
	for _, dto := range response.Balances {
		amount, err := decimal.NewFromString(dto.BalanceAmount.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance amount %q: %w", dto.BalanceAmount.Amount, err)
		}
		balances = append(balances, Balance{
			Type:          dto.BalanceType,
			Amount:        amount,
			Currency:      dto.BalanceAmount.Currency,
			ReferenceDate: parseTime(dto.ReferenceDate),
		})
	}
	return balances, nil
}

func (c *Client) GetAccountTransactions(ctx context.Context, accountID string, dateFrom *time.Time) ([]Transaction, error) {
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions/"
	if dateFrom != nil {
		path += "?date_from=" + dateFrom.UTC().Format("2006-01-02")
	}

	var response transactionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}

	transactions := make([]Transaction, 0, len(response.Transactions.Booked)+len(response.Transactions.Pending))
	for _, dto := range response.Transactions.Booked {
		transaction, err := mapTransaction(dto, false)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	for _, dto := range response.Transactions.Pending {
		transaction, err := mapTransaction(dto, true)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}

	c.logger.Debug("Retrieved transactions",
		zap.String("account_id", accountID),
		zap.Int("count", len(transactions)))

	return transactions, nil
}

// do performs one API call with token attachment, outbound rate limiting and
// bounded retries. 429 responses surface immediately as RateLimitedError so
// the caller can honor the server-signaled delay; 5xx and network errors are
// retried here.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retryable, err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err

		c.logger.Warn("Provider call failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return fmt.Errorf("provider call failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out interface{}) (retryable bool, err error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		return false, &RateLimitedError{RetryAfter: parseRetryAfter(response.Header.Get("Retry-After"))}
	case response.StatusCode >= 500:
		return true, &APIError{StatusCode: response.StatusCode, Body: string(responseBody)}
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return false, &APIError{StatusCode: response.StatusCode, Body: string(responseBody)}
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return false, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return defaultRetryAfter
}

func (c *Client) mapInstitution(dto institutionDTO) Institution {
	transactionDays, err := strconv.Atoi(dto.TransactionTotalDays)
	if err != nil {
		c.logger.Warn("Failed to parse transaction_total_days",
			zap.String("institution_id", dto.ID),
			zap.String("value", dto.TransactionTotalDays))
	}
	accessDays, err := strconv.Atoi(dto.MaxAccessValidForDays)
	if err != nil {
		c.logger.Warn("Failed to parse max_access_valid_for_days",
			zap.String("institution_id", dto.ID),
			zap.String("value", dto.MaxAccessValidForDays))
	}

	return Institution{
		ID:                    dto.ID,
		Name:                  dto.Name,
		Bic:                   dto.Bic,
		LogoURL:               dto.Logo,
		Countries:             dto.Countries,
		TransactionTotalDays:  transactionDays,
		MaxAccessValidForDays: accessDays,
	}
}

func mapRequisition(dto requisitionDTO) Requisition {
	return Requisition{
		ID:                dto.ID,
		InstitutionID:     dto.InstitutionID,
		AgreementID:       dto.Agreement,
		Reference:         dto.Reference,
		Status:            mapLinkStatus(dto.Status),
		AuthorizationLink: dto.Link,
		AccountIDs:        dto.Accounts,
	}
}

// mapLinkStatus translates GoCardless requisition status codes into local
// link statuses. Codes before LN all mean the user has not finished
// bank-side authorization yet.
func mapLinkStatus(code string) string {
	switch code {
	case "LN":
		return events.LinkStatusLinked
	case "RJ":
		return events.LinkStatusFailed
	case "EX":
		return events.LinkStatusExpired
	default:
		// CR, GC, UA, SA, GA
		return events.LinkStatusPending
	}
}

func mapTransaction(dto transactionDTO, pending bool) (Transaction, error) {
	amount, err := decimal.NewFromString(dto.TransactionAmount.Amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to parse transaction amount %q: %w", dto.TransactionAmount.Amount, err)
	}

	transaction := Transaction{
		ExternalID:     dto.TransactionID,
		Amount:         amount,
		Currency:       dto.TransactionAmount.Currency,
		Pending:        pending,
		CreditorName:   dto.CreditorName,
		DebtorName:     dto.DebtorName,
		RemittanceInfo: dto.RemittanceInformationUnstructured,
	}
	if booked := parseTime(dto.BookingDate); !booked.IsZero() {
		transaction.BookingDate = &booked
	}
	if valued := parseTime(dto.ValueDate); !valued.IsZero() {
		transaction.ValueDate = &valued
	}
	return transaction, nil
}

// parseTime accepts the two timestamp shapes the API uses: RFC 3339 and bare
// dates. Returns the zero time when the value is absent or unparseable.
func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if at, err := time.Parse(time.RFC3339, value); err == nil {
		return at
	}
	if at, err := time.Parse("2006-01-02", value); err == nil {
		return at
	}
	return time.Time{}
}
