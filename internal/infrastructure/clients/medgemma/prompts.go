package medgemma

// ScanAnalysisPrompt is the stone-detection prompt sent with the key slices.
const ScanAnalysisPrompt = `Analyze this CT scan for kidney stones. For each stone identified, return JSON with: ` +
	`location (kidney upper/mid/lower pole or ureter proximal/mid/distal), ` +
	`maximum size in mm, Hounsfield units, shape, and location coordinates (x,y,z in voxel or millimeter space). ` +
	`If available, include size in voxels or a bounding box (z_min,y_min,x_min,z_max,y_max,x_max). ` +
	`Also include hydronephrosis severity if present. ` +
	`Return {"stones": [...], "confidence": 0-1}.`
