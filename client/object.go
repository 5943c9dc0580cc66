package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomstore/dicom"
)

// Object is one item of a send job. Either Path names a Part 10 file or
// DataSet holds the encoded dataset. UIDs left empty are taken from the file
// meta information.
type Object struct {
	Path              string
	DataSet           []byte
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
}

// FileObject is shorthand for an Object read from path.
func FileObject(path string) Object {
	return Object{Path: path}
}

// Name identifies the object in results and logs.
func (o Object) Name() string {
	if o.Path != "" {
		return o.Path
	}
	return o.SOPInstanceUID
}

// resolved is an object ready to send, or the reason it cannot be.
type resolved struct {
	Object
	err error
}

// resolveObjects reads and identifies every object. Files are read with at
// most limit concurrent readers. A per-object failure is recorded on that
// object and does not fail the job.
func resolveObjects(ctx context.Context, objects []Object, limit int) ([]resolved, error) {
	out := make([]resolved, len(objects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range objects {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			obj, err := resolveObject(objects[i])
			out[i] = resolved{Object: obj, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveObject(obj Object) (Object, error) {
	var meta *dicom.FileMeta
	switch {
	case obj.Path != "":
		f, err := dicom.ReadFile(obj.Path)
		if err != nil {
			return obj, err
		}
		meta, obj.DataSet = f.Meta, f.DataSet
	case dicom.HasPart10Header(obj.DataSet):
		m, offset, err := dicom.ReadFileMeta(obj.DataSet)
		if err != nil {
			return obj, err
		}
		meta, obj.DataSet = m, obj.DataSet[offset:]
	}

	if meta != nil {
		if obj.SOPClassUID == "" {
			obj.SOPClassUID = meta.MediaStorageSOPClassUID
		}
		if obj.SOPInstanceUID == "" {
			obj.SOPInstanceUID = meta.MediaStorageSOPInstanceUID
		}
		if obj.TransferSyntaxUID == "" {
			obj.TransferSyntaxUID = meta.TransferSyntaxUID
		}
	}

	var result *multierror.Error
	if obj.SOPClassUID == "" {
		result = multierror.Append(result, errors.New("no SOP class UID"))
	}
	if obj.SOPInstanceUID == "" {
		result = multierror.Append(result, errors.New("no SOP instance UID"))
	}
	if obj.TransferSyntaxUID == "" {
		result = multierror.Append(result, errors.New("no transfer syntax UID"))
	}
	if len(obj.DataSet) == 0 {
		result = multierror.Append(result, errors.New("empty dataset"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return obj, fmt.Errorf("cannot identify %s: %w", obj.Name(), err)
	}
	return obj, nil
}
