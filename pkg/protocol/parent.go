package protocol

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/models"
)

// fetchBatchSize caps the pair ids sent in one fetch request.
const fetchBatchSize = 500

// Delivery channels of a parent.
const (
	DeliveryLocal = "local"
	DeliveryHTTP  = "http"
)

// Parent is the linkage unit one layer up.
type Parent interface {
	// ReportPairs delivers pairs to the parent project. With merge set the
	// parent merges them as improved links.
	ReportPairs(ctx context.Context, parentProjectID string, pairs []*models.RecordPair, merge bool) error
	// FetchUncertainPairs returns the parent's uncertain links with the
	// given pair ids.
	FetchUncertainPairs(ctx context.Context, parentProjectID string, pairIDs []string) ([]*models.RecordPair, error)
	Delivery() string
}

// LocalParent serves the parent project from this process.
type LocalParent struct {
	service *Service
}

// NewLocalParent creates a parent backed by the given service.
func NewLocalParent(service *Service) *LocalParent {
	return &LocalParent{service: service}
}

func (p *LocalParent) ReportPairs(ctx context.Context, parentProjectID string, pairs []*models.RecordPair, merge bool) error {
	for _, pair := range pairs {
		pair.ProjectID = parentProjectID
	}
	_, err := p.service.ReceivePairs(ctx, pairs, merge)
	return err
}

func (p *LocalParent) FetchUncertainPairs(ctx context.Context, parentProjectID string, pairIDs []string) ([]*models.RecordPair, error) {
	return p.service.GetUncertainPairsForPairIDs(ctx, parentProjectID, pairIDs)
}

func (p *LocalParent) Delivery() string { return DeliveryLocal }

// HTTPParent talks to a remote linkage unit through its protocol routes.
type HTTPParent struct {
	client   *httpclient.Client
	endpoint string
}

// NewHTTPParent creates a parent client for the linkage unit at endpoint.
func NewHTTPParent(client *httpclient.Client, endpoint string) *HTTPParent {
	return &HTTPParent{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

func (p *HTTPParent) ReportPairs(ctx context.Context, parentProjectID string, pairs []*models.RecordPair, merge bool) error {
	for _, pair := range pairs {
		pair.ProjectID = parentProjectID
	}
	query := url.Values{}
	query.Set("merge", fmt.Sprint(merge))
	return p.client.DoJSON(ctx, http.MethodPost, p.endpoint+"/protocol/pairs?"+query.Encode(), pairs, nil)
}

// FetchUncertainPairs posts the pair ids in batches of fetchBatchSize.
func (p *HTTPParent) FetchUncertainPairs(ctx context.Context, parentProjectID string, pairIDs []string) ([]*models.RecordPair, error) {
	u := fmt.Sprintf("%s/protocol/pairs/uncertain/%s", p.endpoint, url.PathEscape(parentProjectID))

	pairs := []*models.RecordPair{}
	for start := 0; start < len(pairIDs); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(pairIDs))
		var batch []*models.RecordPair
		req := models.UncertainPairsRequest{PairIDs: pairIDs[start:end]}
		if err := p.client.DoJSON(ctx, http.MethodPost, u, req, &batch); err != nil {
			return nil, err
		}
		pairs = append(pairs, batch...)
	}
	return pairs, nil
}

func (p *HTTPParent) Delivery() string { return DeliveryHTTP }
