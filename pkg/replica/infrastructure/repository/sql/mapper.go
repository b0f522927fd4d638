package sql

import (
	"fmt"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

func fromDomainLoadRun(r *model.LoadRun) *LoadStatusLogEntity {
	return &LoadStatusLogEntity{
		LoadID:         r.ID,
		FirstCTVersion: int64(r.FirstVersion),
		FromDatetime:   r.From.UTC(),
		LastCTVersion:  int64(r.LastVersion),
		ToDatetime:     r.To.UTC(),
		StatusCode:     r.Status.Code(),
		TypeCode:       r.Type.Code(),
	}
}

func toDomainLoadRun(e *LoadStatusLogEntity) (*model.LoadRun, error) {
	status, err := model.ParseLoadStatus(e.StatusCode)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", e.LoadID, err)
	}
	loadType, err := model.ParseLoadType(e.TypeCode)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", e.LoadID, err)
	}
	return &model.LoadRun{
		ID:           e.LoadID,
		Type:         loadType,
		Status:       status,
		FirstVersion: model.ChangeMarker(e.FirstCTVersion),
		LastVersion:  model.ChangeMarker(e.LastCTVersion),
		From:         e.FromDatetime.UTC(),
		To:           e.ToDatetime.UTC(),
	}, nil
}
