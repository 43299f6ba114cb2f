// Package snapshot drives the report-snapshot job lifecycle against the
// Walmart Connect API: create the job, poll it to a terminal state, then
// download and decompress the resulting file.
package snapshot

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/adnet-tools/wmsnap/internal/utils"
	"github.com/adnet-tools/wmsnap/pkg/report"
	"github.com/adnet-tools/wmsnap/pkg/whttp"
	"github.com/adnet-tools/wmsnap/pkg/wmauth"
	"github.com/adnet-tools/wmsnap/pkg/wmerr"
)

const (
	defaultPollInterval    = 30 * time.Second
	defaultMaxPollAttempts = 60

	apiTimeout      = 30 * time.Second
	downloadTimeout = 120 * time.Second

	copyChunkSize = 8192
)

// Client runs the three snapshot operations. One snapshot job lives and dies
// within one Client call chain; nothing is persisted across processes.
type Client struct {
	auth        *wmauth.Authority
	api         *retryablehttp.Client
	download    *retryablehttp.Client
	baseURL     string
	downloadURL string

	pollInterval    time.Duration
	maxPollAttempts int

	// sleep and today are replaceable so the poll loop and the date rules
	// can be tested without real time.
	sleep func(ctx context.Context, d time.Duration) error
	today func() time.Time
}

// NewClient wires a Client against the given API endpoints. The API clients
// never retry on their own; the poll loop is the only built-in retry, and
// job submission is not idempotent.
func NewClient(auth *wmauth.Authority, baseURL, downloadURL string) *Client {
	return &Client{
		auth:            auth,
		api:             whttp.NewClient(0, apiTimeout),
		download:        whttp.NewClient(0, downloadTimeout),
		baseURL:         strings.TrimRight(baseURL, "/"),
		downloadURL:     strings.TrimRight(downloadURL, "/"),
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
		sleep:           sleepCtx,
		today:           Today,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// wrapNet classifies a transport-level failure: a cancelled context means
// the user interrupted us, anything else is an API reachability problem.
func wrapNet(err error, what string) error {
	if errors.Is(err, context.Canceled) {
		return wmerr.Wrap(wmerr.Interrupted, err, "cancelled during %s", what)
	}
	return wmerr.Wrap(wmerr.API, err, "%s", what)
}

type createRequest struct {
	AdvertiserID string `json:"advertiserId"`
	ReportType   string `json:"reportType"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
}

// Create validates inputs and submits one report-snapshot job, returning the
// server-assigned snapshot id. Submission is never retried.
func (c *Client) Create(ctx context.Context, advertiserID, reportType, startDate, endDate string) (string, error) {
	if !IsValidReportType(reportType) {
		return "", wmerr.New(wmerr.Validation, "invalid report type %q, must be one of: %s", reportType, ReportTypesHelp())
	}
	if err := ValidateDates(reportType, startDate, endDate, c.today()); err != nil {
		return "", err
	}

	reqURL := c.baseURL + "/snapshot/report"
	headers, err := c.auth.HeadersFor(ctx, "POST", reqURL)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(createRequest{
		AdvertiserID: advertiserID,
		ReportType:   reportType,
		StartDate:    startDate,
		EndDate:      endDate,
	})
	if err != nil {
		return "", wmerr.Wrap(wmerr.API, err, "encoding create request")
	}

	utils.Log.Infof("Creating snapshot: type=%s, range=%s to %s", reportType, startDate, endDate)
	res, err := whttp.Send(ctx, c.api, &whttp.Request{
		Method: "POST",
		URL:    reqURL,
		Header: headers,
		Body:   body,
	})
	if err != nil {
		return "", wrapNet(err, "snapshot create request")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", wmerr.HTTPStatus(wmerr.API, res.StatusCode, res.Body, "snapshot create rejected")
	}

	snapshotID := gjson.Get(res.Body, "snapshotId").Str
	if snapshotID == "" {
		return "", wmerr.HTTPStatus(wmerr.API, res.StatusCode, res.Body, "no snapshotId in create response")
	}

	utils.Log.Infof("Snapshot created: snapshotId=%s", snapshotID)
	return snapshotID, nil
}

// Poll performs a single status request. Headers are rebuilt on every call;
// a signature is only valid for the timestamp it was generated with.
func (c *Client) Poll(ctx context.Context, advertiserID, snapshotID string) (Status, error) {
	q := url.Values{}
	q.Set("advertiserId", advertiserID)
	q.Set("snapshotId", snapshotID)
	reqURL := c.baseURL + "/snapshot?" + q.Encode()

	headers, err := c.auth.HeadersFor(ctx, "GET", reqURL)
	if err != nil {
		return Status{}, err
	}

	res, err := whttp.Send(ctx, c.api, &whttp.Request{
		Method: "GET",
		URL:    reqURL,
		Header: headers,
	})
	if err != nil {
		return Status{}, wrapNet(err, "snapshot status request")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Status{}, wmerr.HTTPStatus(wmerr.API, res.StatusCode, res.Body, "snapshot status rejected")
	}

	return parseStatus(res.Body), nil
}

// PollUntilDone runs the bounded poll loop: up to maxPollAttempts status
// checks, pollInterval apart, ~30 minutes worst case. Done returns the
// details URL; failed and expired stop immediately; an unknown status is
// logged and treated like pending.
func (c *Client) PollUntilDone(ctx context.Context, advertiserID, snapshotID string) (string, error) {
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		st, err := c.Poll(ctx, advertiserID, snapshotID)
		if err != nil {
			return "", err
		}

		utils.Log.Infof("Poll attempt %d/%d — status: %s", attempt, c.maxPollAttempts, st.Raw)

		switch st.State {
		case StateDone:
			if st.Details == "" {
				return "", wmerr.New(wmerr.API, "job done but no details URL in response")
			}
			return st.Details, nil
		case StateFailed:
			return "", wmerr.New(wmerr.JobFailed, "snapshot job %s failed", snapshotID)
		case StateExpired:
			return "", wmerr.New(wmerr.JobExpired, "snapshot job %s expired", snapshotID)
		case StateUnknown:
			utils.Log.Warnf("Unexpected job status %q, continuing to poll", st.Raw)
		}

		if attempt < c.maxPollAttempts {
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return "", wmerr.Wrap(wmerr.Interrupted, err, "cancelled while waiting for snapshot")
			}
		}
	}

	return "", wmerr.New(wmerr.Timeout, "snapshot not ready after %d attempts (~%d minutes)",
		c.maxPollAttempts, int(time.Duration(c.maxPollAttempts)*c.pollInterval/time.Minute))
}

// Download fetches the gzip artifact behind detailsURL and decompresses it
// to outPath. The compressed stream goes to outPath+".gz" first, in 8 KiB
// chunks, and that temporary file is removed whether or not decompression
// succeeds.
func (c *Client) Download(ctx context.Context, detailsURL, advertiserID, outPath string) error {
	fileID, err := fileIDFromURL(detailsURL)
	if err != nil {
		return err
	}

	dlURL := c.downloadURL + "/" + fileID + "?advertiserId=" + url.QueryEscape(advertiserID)
	headers, err := c.auth.HeadersFor(ctx, "GET", dlURL)
	if err != nil {
		return err
	}
	// The endpoint returns a raw byte stream, not JSON.
	delete(headers, wmauth.HeaderContentType)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", dlURL, nil)
	if err != nil {
		return wmerr.Wrap(wmerr.API, err, "building download request")
	}
	for name, values := range headers {
		req.Header[name] = values
	}

	utils.Log.Infof("Downloading report file %s", fileID)
	resp, err := c.download.Do(req)
	if err != nil {
		return wrapNet(err, "report download")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wmerr.HTTPStatus(wmerr.API, resp.StatusCode, string(body), "report download rejected")
	}

	gzPath := outPath + ".gz"
	if err := streamToFile(resp.Body, gzPath); err != nil {
		os.Remove(gzPath)
		if errors.Is(err, context.Canceled) {
			return wmerr.Wrap(wmerr.Interrupted, err, "cancelled during download")
		}
		return wmerr.Wrap(wmerr.IO, err, "saving compressed report")
	}
	defer os.Remove(gzPath)

	utils.Log.Debug("Decompressing gzip file")
	if err := gunzipFile(gzPath, outPath); err != nil {
		os.Remove(outPath)
		return err
	}

	utils.Log.Infof("Report saved to %s", outPath)
	return nil
}

// fileIDFromURL extracts the final path segment of the details URL.
func fileIDFromURL(detailsURL string) (string, error) {
	u, err := url.Parse(detailsURL)
	if err != nil {
		return "", wmerr.Wrap(wmerr.API, err, "parsing details URL %q", detailsURL)
	}
	parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	fileID := parts[len(parts)-1]
	if fileID == "" {
		return "", wmerr.New(wmerr.API, "could not extract file id from details URL %q", detailsURL)
	}
	return fileID, nil
}

func streamToFile(r io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func gunzipFile(gzPath, outPath string) error {
	in, err := os.Open(gzPath)
	if err != nil {
		return wmerr.Wrap(wmerr.IO, err, "opening compressed report")
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return wmerr.Wrap(wmerr.Decompress, err, "report is not valid gzip")
	}
	defer gz.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return wmerr.Wrap(wmerr.IO, err, "creating output file")
	}

	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(out, gz, buf); err != nil {
		out.Close()
		// A short or corrupt stream surfaces here, not in NewReader.
		if errors.Is(err, io.ErrUnexpectedEOF) || isGzipError(err) {
			return wmerr.Wrap(wmerr.Decompress, err, "decompressing report")
		}
		return wmerr.Wrap(wmerr.IO, err, "writing output file")
	}
	if err := out.Close(); err != nil {
		return wmerr.Wrap(wmerr.IO, err, "closing output file")
	}
	return nil
}

func isGzipError(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) || errors.As(err, &corrupt)
}

// Run is the whole pipeline for one invocation: create, poll to completion,
// download, then summarize the saved file.
func (c *Client) Run(ctx context.Context, advertiserID, reportType, startDate, endDate, outPath string) (*report.Summary, error) {
	snapshotID, err := c.Create(ctx, advertiserID, reportType, startDate, endDate)
	if err != nil {
		return nil, err
	}

	detailsURL, err := c.PollUntilDone(ctx, advertiserID, snapshotID)
	if err != nil {
		return nil, err
	}

	if err := c.Download(ctx, detailsURL, advertiserID, outPath); err != nil {
		return nil, err
	}

	sum, err := report.Summarize(outPath)
	if err != nil {
		return nil, wmerr.Wrap(wmerr.IO, err, "summarizing %s", outPath)
	}
	return sum, nil
}
