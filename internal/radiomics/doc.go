// Package radiomics computes per-region descriptors of a labelled volume:
// first-order label statistics, 3-D shape features from a boundary mesh and
// principal component analysis, and gray-level co-occurrence texture.
//
// # Shape
//
// The region boundary is meshed with marching cubes on the 0.5
// iso-surface of the binary region mask, padded by one voxel. Area and
// enclosed volume come from that mesh in millimetres, so sphericity is
// resolution aware. Axis lengths and elongation come from the eigenvalues
// of the covariance of voxel centre positions.
//
// # Texture
//
// Intensities inside the region are discretized with a fixed bin width and
// one symmetric co-occurrence matrix is built per 3-D direction at distance
// 1. Each texture feature is the mean over the directions that produced at
// least one voxel pair.
//
// # Usage
//
//	ext := radiomics.NewExtractor(radiomics.DefaultBinWidth)
//	f, err := ext.Execute(lungs, labels, 12)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(f.Sphericity, f.Elongation, f.JointEnergy)
package radiomics
