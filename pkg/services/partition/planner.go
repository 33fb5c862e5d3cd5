/*
2025 © Logset
*/

// Package partition turns the backend's partition metadata into the
// run's partition plan. Planning happens once per run, before the
// first page fetch, and always over HTTP regardless of the active
// search strategy.
package partition

import (
	"context"

	"github.com/AlekSi/pointer"
	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/sqlparse"
)

var log = logging.MustGetLogger("partition")

// API is the remote partition service.
type API interface {
	Partition(ctx context.Context, req *models.PartitionRequest) (*models.PartitionResponse, error)
}

// Planner plans one run's partitions.
type Planner struct {
	api         API
	rowsPerPage int
}

// NewPlanner creates a Planner.
func NewPlanner(api API, rowsPerPage int) *Planner {
	return &Planner{api: api, rowsPerPage: rowsPerPage}
}

// Plan calls the partition service once and maps the returned ranges
// into a fresh PartitionDetail. The detail replaces any previous one
// wholesale; on failure no partial state is produced. Queries whose
// pagination is disabled (an explicit LIMIT clause) skip the remote
// call and treat the whole range as one partition.
func (p *Planner) Plan(ctx context.Context, req *models.QueryRequest, paginationDisabled bool) (*models.PartitionDetail, error) {
	if paginationDisabled {
		detail := models.NewPartitionDetail([][2]int64{{req.StartTime, req.EndTime}}, p.rowsPerPage)
		detail.DisablePaginate = true

		return detail, nil
	}

	resp, err := p.api.Partition(ctx, &models.PartitionRequest{
		SQL:       planningSQL(req),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		SQLMode:   req.SQLMode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to plan partitions")
	}

	ranges := resp.Partitions
	if len(ranges) == 0 {
		ranges = [][2]int64{{req.StartTime, req.EndTime}}
	}

	detail := models.NewPartitionDetail(ranges, p.rowsPerPage)
	detail.StreamingAggs = pointer.GetBool(resp.StreamingAggs)
	detail.StreamingID = resp.StreamingID

	log.Debugf("planned %d partitions for [%d, %d]", len(detail.Partitions), req.StartTime, req.EndTime)

	return detail, nil
}

// planningSQL strips pagination shaping from the query so the backend
// sizes the whole range, not one page.
func planningSQL(req *models.QueryRequest) string {
	sql := req.SQL.First()

	ir, err := sqlparse.Parse(sql)
	if err != nil || ir.HasCTE {
		return sql
	}

	ir.StripPagination()

	return ir.Render()
}
